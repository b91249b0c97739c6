package types

import (
	"fmt"
	"strings"
)

// TableID identifies one of the fixed physical table families.
type TableID int

// Table families.
const (
	Controller TableID = iota + 1
	ControllerDomain
	LogicalPort
	LogicalMemberPort
	Switch
	Port
	Link
	Boundary
)

// Column is a physical column name.
type Column string

// Columns shared across the table catalog.
const (
	ColControllerName    Column = "controller_name"
	ColType              Column = "type"
	ColVersion           Column = "version"
	ColDescription       Column = "description"
	ColIPAddress         Column = "ip_address"
	ColIPv6Address       Column = "ipv6_address"
	ColUserName          Column = "user_name"
	ColPassword          Column = "password"
	ColEnableAudit       Column = "enable_audit"
	ColActualVersion     Column = "actual_version"
	ColOperStatus        Column = "oper_status"
	ColValid             Column = "valid"
	ColConfigStatus      Column = "cs_attr"
	ColCommitNumber      Column = "commit_number"
	ColCommitDate        Column = "commit_date"
	ColCommitApplication Column = "commit_application"
	ColDomainName        Column = "domain_name"
	ColPortID            Column = "port_id"
	ColPortType          Column = "port_type"
	ColSwitchID          Column = "switch_id"
	ColPhysicalPortID    Column = "physical_port_id"
	ColOperDownCriteria  Column = "oper_down_criteria"
	ColModel             Column = "model"
	ColAdminStatus       Column = "admin_status"
	ColManufacturer      Column = "manufacturer"
	ColHardware          Column = "hardware"
	ColSoftware          Column = "software"
	ColAlarmsStatus      Column = "alarms_status"
	ColPortNumber        Column = "port_number"
	ColDirection         Column = "direction"
	ColTrunkAllowedVLAN  Column = "trunk_allowed_vlan"
	ColMACAddress        Column = "mac_address"
	ColDuplex            Column = "duplex"
	ColSpeed             Column = "speed"
	ColLogicalPortID     Column = "logical_port_id"
	ColSwitchID1         Column = "switch_id1"
	ColPortID1           Column = "port_id1"
	ColSwitchID2         Column = "switch_id2"
	ColPortID2           Column = "port_id2"
	ColBoundaryID        Column = "boundary_id"
	ColControllerName1   Column = "controller_name1"
	ColDomainName1       Column = "domain_name1"
	ColLogicalPortID1    Column = "logical_port_id1"
	ColControllerName2   Column = "controller_name2"
	ColDomainName2       Column = "domain_name2"
	ColLogicalPortID2    Column = "logical_port_id2"

	// ColRowStatus exists only in Candidate tables.
	ColRowStatus Column = "cs_row_status"
)

// ControllerType is the value of the controller table's type column.
type ControllerType uint8

// Controller types. Domains are configured only for unknown-type
// controllers; the others report their domains through discovery.
const (
	ControllerUnknown ControllerType = iota
	ControllerPFC
	ControllerVNP
	ControllerPOLC
	ControllerODC
)

// ColumnDef describes one column of a table family.
type ColumnDef struct {
	Name   Column
	Type   DataType
	Length int // maximum length for strings and bytes; 0 means unbounded
}

// TableDef is the catalog entry of one table family.
type TableDef struct {
	ID         TableID
	Name       string // physical name without datastore prefix
	Columns    []ColumnDef
	PrimaryKey []Column
	// SortOrder is the natural ordering used for pagination. A nil
	// SortOrder falls back to PrimaryKey.
	SortOrder []Column
	// Config tables are staged through Candidate; the rest are state
	// tables learned from the network.
	Config bool
}

func str(name Column, length int) ColumnDef { return ColumnDef{Name: name, Type: TypeString, Length: length} }
func u8(name Column) ColumnDef              { return ColumnDef{Name: name, Type: TypeUint8} }
func u16(name Column) ColumnDef             { return ColumnDef{Name: name, Type: TypeUint16} }
func u32(name Column) ColumnDef             { return ColumnDef{Name: name, Type: TypeUint32} }
func u64(name Column) ColumnDef             { return ColumnDef{Name: name, Type: TypeUint64} }
func bin(name Column, length int) ColumnDef { return ColumnDef{Name: name, Type: TypeBytes, Length: length} }

var catalog = map[TableID]*TableDef{
	Controller: {
		ID:   Controller,
		Name: "ctr_table",
		Columns: []ColumnDef{
			str(ColControllerName, 31),
			u8(ColType),
			str(ColVersion, 31),
			str(ColDescription, 127),
			bin(ColIPAddress, 4),
			str(ColUserName, 31),
			str(ColPassword, 256),
			u8(ColEnableAudit),
			str(ColActualVersion, 31),
			u8(ColOperStatus),
			str(ColValid, 9),
			str(ColConfigStatus, 9),
			u64(ColCommitNumber),
			u64(ColCommitDate),
			str(ColCommitApplication, 256),
		},
		PrimaryKey: []Column{ColControllerName},
		Config:     true,
	},
	ControllerDomain: {
		ID:   ControllerDomain,
		Name: "ctr_domain_table",
		Columns: []ColumnDef{
			str(ColControllerName, 31),
			str(ColDomainName, 31),
			u8(ColType),
			str(ColDescription, 127),
			u8(ColOperStatus),
			str(ColValid, 3),
			str(ColConfigStatus, 3),
		},
		PrimaryKey: []Column{ColControllerName, ColDomainName},
		SortOrder:  []Column{ColControllerName, ColDomainName},
		Config:     true,
	},
	LogicalPort: {
		ID:   LogicalPort,
		Name: "logicalport_table",
		Columns: []ColumnDef{
			str(ColControllerName, 31),
			str(ColDomainName, 31),
			str(ColPortID, 319),
			str(ColDescription, 127),
			u8(ColPortType),
			str(ColSwitchID, 255),
			str(ColPhysicalPortID, 31),
			u8(ColOperDownCriteria),
			u8(ColOperStatus),
			str(ColValid, 6),
		},
		PrimaryKey: []Column{ColControllerName, ColDomainName, ColPortID},
	},
	LogicalMemberPort: {
		ID:   LogicalMemberPort,
		Name: "logical_memberport_table",
		Columns: []ColumnDef{
			str(ColControllerName, 31),
			str(ColDomainName, 31),
			str(ColPortID, 319),
			str(ColSwitchID, 255),
			str(ColPhysicalPortID, 31),
		},
		PrimaryKey: []Column{ColControllerName, ColDomainName, ColPortID, ColSwitchID, ColPhysicalPortID},
		SortOrder:  []Column{ColControllerName, ColDomainName, ColPortID, ColSwitchID, ColPhysicalPortID},
	},
	Switch: {
		ID:   Switch,
		Name: "switch_table",
		Columns: []ColumnDef{
			str(ColControllerName, 31),
			str(ColSwitchID, 255),
			str(ColDescription, 127),
			str(ColModel, 31),
			bin(ColIPAddress, 4),
			bin(ColIPv6Address, 16),
			u8(ColAdminStatus),
			str(ColDomainName, 31),
			str(ColManufacturer, 255),
			str(ColHardware, 255),
			str(ColSoftware, 255),
			u64(ColAlarmsStatus),
			u8(ColOperStatus),
			str(ColValid, 11),
		},
		PrimaryKey: []Column{ColControllerName, ColSwitchID},
	},
	Port: {
		ID:   Port,
		Name: "port_table",
		Columns: []ColumnDef{
			str(ColControllerName, 31),
			str(ColSwitchID, 255),
			str(ColPortID, 31),
			u32(ColPortNumber),
			str(ColDescription, 127),
			u8(ColAdminStatus),
			u8(ColDirection),
			u16(ColTrunkAllowedVLAN),
			u8(ColOperStatus),
			bin(ColMACAddress, 6),
			u8(ColDuplex),
			u64(ColSpeed),
			u64(ColAlarmsStatus),
			str(ColLogicalPortID, 319),
			str(ColValid, 13),
		},
		PrimaryKey: []Column{ColControllerName, ColSwitchID, ColPortID},
	},
	Link: {
		ID:   Link,
		Name: "link_table",
		Columns: []ColumnDef{
			str(ColControllerName, 31),
			str(ColSwitchID1, 255),
			str(ColPortID1, 31),
			str(ColSwitchID2, 255),
			str(ColPortID2, 31),
			str(ColDescription, 127),
			u8(ColOperStatus),
			str(ColValid, 2),
		},
		PrimaryKey: []Column{ColControllerName, ColSwitchID1, ColPortID1, ColSwitchID2, ColPortID2},
		SortOrder:  []Column{ColControllerName, ColSwitchID1, ColPortID1, ColSwitchID2, ColPortID2},
	},
	Boundary: {
		ID:   Boundary,
		Name: "boundary_table",
		Columns: []ColumnDef{
			str(ColBoundaryID, 31),
			str(ColDescription, 127),
			str(ColControllerName1, 31),
			str(ColDomainName1, 31),
			str(ColLogicalPortID1, 319),
			str(ColControllerName2, 31),
			str(ColDomainName2, 31),
			str(ColLogicalPortID2, 319),
			u8(ColOperStatus),
			str(ColValid, 8),
			str(ColConfigStatus, 8),
		},
		PrimaryKey: []Column{ColBoundaryID},
		Config:     true,
	},
}

// Tables lists every table family in creation order.
var Tables = []TableID{Controller, ControllerDomain, LogicalPort, LogicalMemberPort, Switch, Port, Link, Boundary}

// ConfigTables lists the tables staged through Candidate.
var ConfigTables = []TableID{Controller, ControllerDomain, Boundary}

// StateTables lists the tables learned from the network.
var StateTables = []TableID{LogicalPort, LogicalMemberPort, Switch, Port, Link}

// Def returns the catalog entry for t, or nil when t is unknown.
func (t TableID) Def() *TableDef {
	return catalog[t]
}

// Valid reports whether t is a known table family.
func (t TableID) Valid() bool {
	return catalog[t] != nil
}

// String returns the physical base name of the table.
func (t TableID) String() string {
	if d := catalog[t]; d != nil {
		return d.Name
	}
	return fmt.Sprintf("table(%d)", int(t))
}

// PhysicalName returns the prefixed table name for datastore d.
func (t TableID) PhysicalName(d DatastoreID) string {
	return d.Prefix() + t.String()
}

// ParseTable converts a physical base name, with or without the "_table"
// suffix, to its TableID.
func ParseTable(name string) (TableID, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for _, id := range Tables {
		base := catalog[id].Name
		if n == base || n+"_table" == base {
			return id, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownTable, name)
}

// InDatastore reports whether table t is physically present in datastore d.
// Config tables live in every datastore; State also serves them through the
// shared r_ prefix. State tables live in State and Import only.
func (t TableID) InDatastore(d DatastoreID) bool {
	def := catalog[t]
	if def == nil || !d.Valid() {
		return false
	}
	if def.Config {
		return true
	}
	return d == State || d == Import
}

// TablesIn returns the tables present in datastore d in creation order.
func TablesIn(d DatastoreID) []TableID {
	var out []TableID
	for _, t := range Tables {
		if t.InDatastore(d) && ownsPhysical(t, d) {
			out = append(out, t)
		}
	}
	return out
}

// ownsPhysical resolves the r_ prefix sharing: Running owns the config
// tables and State owns the state tables.
func ownsPhysical(t TableID, d DatastoreID) bool {
	def := catalog[t]
	switch d {
	case Running:
		return def.Config
	case State:
		return !def.Config
	}
	return true
}

// Column returns the definition of column c, or false if t has no such column.
func (def *TableDef) Column(c Column) (ColumnDef, bool) {
	for _, cd := range def.Columns {
		if cd.Name == c {
			return cd, true
		}
	}
	return ColumnDef{}, false
}

// IsKey reports whether c is part of the primary key.
func (def *TableDef) IsKey(c Column) bool {
	for _, k := range def.PrimaryKey {
		if k == c {
			return true
		}
	}
	return false
}

// Order returns SortOrder, falling back to PrimaryKey.
func (def *TableDef) Order() []Column {
	if len(def.SortOrder) > 0 {
		return def.SortOrder
	}
	return def.PrimaryKey
}

// ColumnNames returns every column name in catalog order.
func (def *TableDef) ColumnNames() []Column {
	out := make([]Column, len(def.Columns))
	for i, cd := range def.Columns {
		out[i] = cd.Name
	}
	return out
}
