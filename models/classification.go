package models

type SystemType string

const (
	SystemStructural SystemType = "structural"
	SystemLifeSafety SystemType = "life_safety"
	SystemElectrical SystemType = "electrical"
	SystemHVAC       SystemType = "hvac"
	SystemPlumbing   SystemType = "plumbing"
	SystemTelecom    SystemType = "telecom"
	SystemSecurity   SystemType = "security"
	SystemFinishes   SystemType = "finishes"
)

// SystemTypes lists every system type ordered by priority.
var SystemTypes = []SystemType{
	SystemStructural,
	SystemLifeSafety,
	SystemElectrical,
	SystemHVAC,
	SystemPlumbing,
	SystemTelecom,
	SystemSecurity,
	SystemFinishes,
}

var systemPriorities = map[SystemType]int{
	SystemStructural: 1,
	SystemLifeSafety: 2,
	SystemElectrical: 3,
	SystemHVAC:       3,
	SystemPlumbing:   3,
	SystemTelecom:    4,
	SystemSecurity:   4,
	SystemFinishes:   5,
}

// Priority returns the system priority. 1 is the highest priority, unknown
// systems rank last.
func (s SystemType) Priority() int {
	if p, ok := systemPriorities[s]; ok {
		return p
	}
	return 5
}

type ObjectType string

const (
	ObjectStructuralColumn ObjectType = "structural_column"
	ObjectStructuralBeam   ObjectType = "structural_beam"
	ObjectStructuralWall   ObjectType = "structural_wall"
	ObjectStructuralSlab   ObjectType = "structural_slab"
	ObjectFoundation       ObjectType = "foundation"

	ObjectFireSprinkler  ObjectType = "fire_sprinkler"
	ObjectFireAlarm      ObjectType = "fire_alarm"
	ObjectSmokeDetector  ObjectType = "smoke_detector"
	ObjectEmergencyLight ObjectType = "emergency_light"
	ObjectExitSign       ObjectType = "exit_sign"
	ObjectFireDamper     ObjectType = "fire_damper"

	ObjectElectricalOutlet  ObjectType = "electrical_outlet"
	ObjectElectricalPanel   ObjectType = "electrical_panel"
	ObjectElectricalConduit ObjectType = "electrical_conduit"
	ObjectElectricalSwitch  ObjectType = "electrical_switch"
	ObjectLightFixture      ObjectType = "light_fixture"
	ObjectTransformer       ObjectType = "transformer"

	ObjectHVACDuct     ObjectType = "hvac_duct"
	ObjectHVACUnit     ObjectType = "hvac_unit"
	ObjectHVACDiffuser ObjectType = "hvac_diffuser"
	ObjectThermostat   ObjectType = "thermostat"

	ObjectPlumbingPipe    ObjectType = "plumbing_pipe"
	ObjectPlumbingFixture ObjectType = "plumbing_fixture"
	ObjectWaterHeater     ObjectType = "water_heater"
	ObjectDrain           ObjectType = "drain"

	ObjectTelecomCable ObjectType = "telecom_cable"
	ObjectNetworkRack  ObjectType = "network_rack"
	ObjectWirelessAP   ObjectType = "wireless_access_point"

	ObjectSecurityCamera ObjectType = "security_camera"
	ObjectAccessControl  ObjectType = "access_control"

	ObjectDoor        ObjectType = "door"
	ObjectWindow      ObjectType = "window"
	ObjectCeilingTile ObjectType = "ceiling_tile"
	ObjectWallFinish  ObjectType = "wall_finish"
	ObjectFloorFinish ObjectType = "floor_finish"
	ObjectFurniture   ObjectType = "furniture"
)

type objectClass struct {
	system   SystemType
	baseCost float64
}

var objectClasses = map[ObjectType]objectClass{
	ObjectStructuralColumn: {SystemStructural, 5000},
	ObjectStructuralBeam:   {SystemStructural, 4000},
	ObjectStructuralWall:   {SystemStructural, 8000},
	ObjectStructuralSlab:   {SystemStructural, 12000},
	ObjectFoundation:       {SystemStructural, 15000},

	ObjectFireSprinkler:  {SystemLifeSafety, 250},
	ObjectFireAlarm:      {SystemLifeSafety, 300},
	ObjectSmokeDetector:  {SystemLifeSafety, 150},
	ObjectEmergencyLight: {SystemLifeSafety, 200},
	ObjectExitSign:       {SystemLifeSafety, 180},
	ObjectFireDamper:     {SystemLifeSafety, 900},

	ObjectElectricalOutlet:  {SystemElectrical, 120},
	ObjectElectricalPanel:   {SystemElectrical, 2500},
	ObjectElectricalConduit: {SystemElectrical, 400},
	ObjectElectricalSwitch:  {SystemElectrical, 100},
	ObjectLightFixture:      {SystemElectrical, 350},
	ObjectTransformer:       {SystemElectrical, 9000},

	ObjectHVACDuct:     {SystemHVAC, 800},
	ObjectHVACUnit:     {SystemHVAC, 7000},
	ObjectHVACDiffuser: {SystemHVAC, 220},
	ObjectThermostat:   {SystemHVAC, 180},

	ObjectPlumbingPipe:    {SystemPlumbing, 600},
	ObjectPlumbingFixture: {SystemPlumbing, 900},
	ObjectWaterHeater:     {SystemPlumbing, 2200},
	ObjectDrain:           {SystemPlumbing, 300},

	ObjectTelecomCable: {SystemTelecom, 200},
	ObjectNetworkRack:  {SystemTelecom, 3000},
	ObjectWirelessAP:   {SystemTelecom, 450},

	ObjectSecurityCamera: {SystemSecurity, 600},
	ObjectAccessControl:  {SystemSecurity, 800},

	ObjectDoor:        {SystemFinishes, 1200},
	ObjectWindow:      {SystemFinishes, 1500},
	ObjectCeilingTile: {SystemFinishes, 40},
	ObjectWallFinish:  {SystemFinishes, 300},
	ObjectFloorFinish: {SystemFinishes, 500},
	ObjectFurniture:   {SystemFinishes, 700},
}

func (t ObjectType) Valid() bool {
	_, ok := objectClasses[t]
	return ok
}

// SystemType returns the building system the object type belongs to.
// Unknown types are treated as finishes.
func (t ObjectType) SystemType() SystemType {
	if c, ok := objectClasses[t]; ok {
		return c.system
	}
	return SystemFinishes
}

func (t ObjectType) Priority() int {
	return t.SystemType().Priority()
}

// BaseCost returns the nominal installation cost of one object of the type.
func (t ObjectType) BaseCost() float64 {
	if c, ok := objectClasses[t]; ok {
		return c.baseCost
	}
	return 100
}
