package featureflag

type Flag string

const (
	FlagDisableConflictCache     Flag = "DISABLE_CONFLICT_CACHE"
	FlagDisableDetectOnAdd       Flag = "DISABLE_DETECT_ON_ADD"
	FlagDisableEventBroadcast    Flag = "DISABLE_EVENT_BROADCAST"
	FlagDisablePlanViewConflicts Flag = "DISABLE_PLAN_VIEW_CONFLICTS"
)
