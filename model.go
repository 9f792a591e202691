package iec61850

import (
	"fmt"
	"strings"
)

// ModelNodeType discriminates the node kinds of a server data model tree.
type ModelNodeType int

const (
	MODEL_NODE_LOGICAL_DEVICE ModelNodeType = iota
	MODEL_NODE_LOGICAL_NODE
	MODEL_NODE_DATA_OBJECT
	MODEL_NODE_DATA_ATTRIBUTE
)

// DataAttributeTrgOps selects the report triggers a data attribute raises
// when its value or quality changes.
type DataAttributeTrgOps int

const (
	TRG_OPT_NONE            DataAttributeTrgOps = 0
	TRG_OPT_DATA_CHANGED    DataAttributeTrgOps = 1
	TRG_OPT_QUALITY_CHANGED DataAttributeTrgOps = 2
	TRG_OPT_DATA_UPDATE     DataAttributeTrgOps = 4
)

// ModelNode is one node of a server data model: a logical device, logical
// node, data object or data attribute. Data attributes carry a value,
// functional constraint and trigger options; controllable data objects carry
// a control model.
type ModelNode struct {
	name     string
	nodeType ModelNodeType
	parent   *ModelNode
	children []*ModelNode

	// data attribute fields
	fc      FC
	mmsType MmsType
	trgOps  DataAttributeTrgOps
	value   *MmsValue

	// per setting group values, index 0 is group 1; nil unless FC is SE
	sgValues []*MmsValue

	// controllable data object fields
	ctlModel ControlModel

	model *IedModel
}

// GetName returns the node name.
func (n *ModelNode) GetName() string { return n.name }

// GetType returns the node kind.
func (n *ModelNode) GetType() ModelNodeType { return n.nodeType }

// GetParent returns the parent node, or nil for a logical device.
func (n *ModelNode) GetParent() *ModelNode { return n.parent }

// GetChildren returns the child nodes.
func (n *ModelNode) GetChildren() []*ModelNode { return n.children }

// GetChild returns the direct child with the given name, or nil.
func (n *ModelNode) GetChild(name string) *ModelNode {
	for _, child := range n.children {
		if child.name == name {
			return child
		}
	}
	return nil
}

// GetFC returns the functional constraint of a data attribute node.
func (n *ModelNode) GetFC() FC { return n.fc }

// GetMmsType returns the MMS type of a data attribute node.
func (n *ModelNode) GetMmsType() MmsType { return n.mmsType }

// GetCtlModel returns the control model of a controllable data object.
func (n *ModelNode) GetCtlModel() ControlModel { return n.ctlModel }

// GetObjectReference returns the full object reference of the node, e.g.
// "simpleIOGenericIO/GGIO1.SPCSO1.stVal".
func (n *ModelNode) GetObjectReference() string {
	if n.nodeType == MODEL_NODE_LOGICAL_DEVICE {
		return n.name
	}
	parts := make([]string, 0, 4)
	for cur := n; cur != nil && cur.nodeType != MODEL_NODE_LOGICAL_DEVICE; cur = cur.parent {
		parts = append(parts, cur.name)
	}
	ld := n
	for ld.parent != nil {
		ld = ld.parent
	}
	var b strings.Builder
	b.WriteString(ld.name)
	b.WriteString("/")
	for i := len(parts) - 1; i >= 0; i-- {
		if i != len(parts)-1 {
			b.WriteString(".")
		}
		b.WriteString(parts[i])
	}
	return b.String()
}

// dataObject returns the enclosing data object of an attribute node.
func (n *ModelNode) dataObject() *ModelNode {
	for cur := n; cur != nil; cur = cur.parent {
		if cur.nodeType == MODEL_NODE_DATA_OBJECT &&
			(cur.parent == nil || cur.parent.nodeType == MODEL_NODE_LOGICAL_NODE) {
			return cur
		}
	}
	return nil
}

// dataSetMember is one member of a data set, resolved at model build time.
type dataSetMember struct {
	ref  string
	fc   FC
	node *ModelNode
}

// DataSet is a named, ordered collection of data references used as the
// source of reports.
type DataSet struct {
	name    string
	ref     string
	ln      *ModelNode
	members []dataSetMember

	// deletable marks data sets created by clients at runtime.
	deletable bool
}

// GetName returns the data set name.
func (ds *DataSet) GetName() string { return ds.name }

// GetReference returns the full data set reference.
func (ds *DataSet) GetReference() string { return ds.ref }

// MemberReferences returns the member references in data set order.
func (ds *DataSet) MemberReferences() []string {
	refs := make([]string, len(ds.members))
	for i, m := range ds.members {
		refs[i] = m.ref
	}
	return refs
}

// rcbDecl is the static declaration of a report control block in the model.
type rcbDecl struct {
	name     string
	ln       *ModelNode
	buffered bool
	rptID    string
	datSet   string
	confRev  uint32
	trgOps   TrgOps
	optFlds  OptFlds
	bufTm    uint32
	intgPd   uint32
}

// sgcbDecl is the static declaration of a setting group control block.
type sgcbDecl struct {
	ln       *ModelNode
	numOfSGs int
	actSG    int
}

// IedModel is the static data model of a server: the tree of logical
// devices, nodes, objects and attributes plus the data sets, report control
// blocks and setting group control blocks declared on it.
type IedModel struct {
	name    string
	devices []*ModelNode

	index    map[string]*ModelNode // object reference -> node
	datasets map[string]*DataSet   // data set reference -> data set
	rcbs     []*rcbDecl
	sgcbs    map[string]*sgcbDecl // "ld/ln" -> declaration
}

// NewIedModel creates an empty data model.
func NewIedModel(name string) *IedModel {
	return &IedModel{
		name:     name,
		index:    make(map[string]*ModelNode),
		datasets: make(map[string]*DataSet),
		sgcbs:    make(map[string]*sgcbDecl),
	}
}

// GetName returns the IED name of the model.
func (m *IedModel) GetName() string { return m.name }

// Destroy releases the model. Present for API symmetry; the tree is garbage
// collected.
func (m *IedModel) Destroy() {}

// CreateLogicalDevice adds a logical device to the model. The device name
// is used as-is in object references.
func (m *IedModel) CreateLogicalDevice(name string) *ModelNode {
	ld := &ModelNode{name: name, nodeType: MODEL_NODE_LOGICAL_DEVICE, model: m}
	m.devices = append(m.devices, ld)
	m.index[name] = ld
	return ld
}

// CreateLogicalNode adds a logical node to a logical device.
func (m *IedModel) CreateLogicalNode(ld *ModelNode, name string) *ModelNode {
	ln := &ModelNode{name: name, nodeType: MODEL_NODE_LOGICAL_NODE, parent: ld, model: m}
	ld.children = append(ld.children, ln)
	m.index[ln.GetObjectReference()] = ln
	return ln
}

// CreateDataObject adds a data object to a logical node or a sub data
// object.
func (m *IedModel) CreateDataObject(parent *ModelNode, name string) *ModelNode {
	do := &ModelNode{name: name, nodeType: MODEL_NODE_DATA_OBJECT, parent: parent, model: m}
	parent.children = append(parent.children, do)
	m.index[do.GetObjectReference()] = do
	return do
}

// CreateControllableDataObject adds a data object with the given control
// model. A ctlModel data attribute (FC=CF) is created alongside.
func (m *IedModel) CreateControllableDataObject(parent *ModelNode, name string, ctlModel ControlModel) *ModelNode {
	do := m.CreateDataObject(parent, name)
	do.ctlModel = ctlModel
	m.CreateDataAttribute(do, "ctlModel", Integer, CF, TRG_OPT_NONE, NewInt32MmsValue(int32(ctlModel)))
	return do
}

// CreateDataAttribute adds a data attribute with an initial value. Composite
// attributes (Structure) take a nil value and get children of their own.
func (m *IedModel) CreateDataAttribute(parent *ModelNode, name string, mmsType MmsType, fc FC,
	trgOps DataAttributeTrgOps, value *MmsValue) *ModelNode {

	da := &ModelNode{
		name:     name,
		nodeType: MODEL_NODE_DATA_ATTRIBUTE,
		parent:   parent,
		model:    m,
		fc:       fc,
		mmsType:  mmsType,
		trgOps:   trgOps,
		value:    value,
	}
	parent.children = append(parent.children, da)
	m.index[da.GetObjectReference()] = da
	return da
}

// CreateDataSet declares a data set on a logical node. Member references are
// full object references, optionally with an FC suffix like
// "ld/LN.DO.stVal[ST]".
func (m *IedModel) CreateDataSet(ln *ModelNode, name string, memberRefs ...string) (*DataSet, error) {
	ref := fmt.Sprintf("%s.%s", ln.GetObjectReference(), name)
	if _, ok := m.datasets[ref]; ok {
		return nil, fmt.Errorf("CreateDataSet %s: already exists", ref)
	}
	ds := &DataSet{name: name, ref: ref, ln: ln}
	members, err := m.resolveDataSetMembers(ref, memberRefs)
	if err != nil {
		return nil, err
	}
	ds.members = members
	m.datasets[ref] = ds
	return ds, nil
}

// resolveDataSetMembers parses member references of the form "ref" or
// "ref[FC]" against the model.
func (m *IedModel) resolveDataSetMembers(dsRef string, memberRefs []string) ([]dataSetMember, error) {
	members := make([]dataSetMember, 0, len(memberRefs))
	for _, memberRef := range memberRefs {
		cleanRef := memberRef
		fc := NONE
		if i := strings.LastIndex(memberRef, "["); i != -1 && strings.HasSuffix(memberRef, "]") {
			fc = FunctionalConstraintFromString(memberRef[i+1 : len(memberRef)-1])
			cleanRef = memberRef[:i]
		}
		node := m.GetModelNodeByObjectReference(cleanRef)
		if node == nil {
			return nil, fmt.Errorf("data set %s: member %s not in model", dsRef, memberRef)
		}
		members = append(members, dataSetMember{ref: cleanRef, fc: fc, node: node})
	}
	return members, nil
}

// RCBOptions carries the optional settings of a report control block
// declaration.
type RCBOptions struct {
	RptID   string
	DatSet  string
	ConfRev uint32
	TrgOps  TrgOps
	OptFlds OptFlds
	BufTm   uint32
	IntgPd  uint32
}

// CreateReportControlBlock declares an RCB on a logical node. Buffered RCBs
// are addressed as "<ln>.BR.<name>", unbuffered ones as "<ln>.RP.<name>".
func (m *IedModel) CreateReportControlBlock(ln *ModelNode, name string, buffered bool, opts RCBOptions) {
	rptID := opts.RptID
	if rptID == "" {
		rptID = fmt.Sprintf("%s.%s", ln.GetObjectReference(), name)
	}
	decl := &rcbDecl{
		name:     name,
		ln:       ln,
		buffered: buffered,
		rptID:    rptID,
		datSet:   opts.DatSet,
		confRev:  opts.ConfRev,
		trgOps:   opts.TrgOps,
		optFlds:  opts.OptFlds,
		bufTm:    opts.BufTm,
		intgPd:   opts.IntgPd,
	}
	if decl.confRev == 0 {
		decl.confRev = 1
	}
	m.rcbs = append(m.rcbs, decl)
}

// CreateSettingGroupControlBlock declares the SGCB of a logical node
// (normally LLN0). Data attributes with FC=SE under the same logical device
// become setting group members.
func (m *IedModel) CreateSettingGroupControlBlock(ln *ModelNode, actSG, numOfSGs int) error {
	if numOfSGs < 1 || actSG < 1 || actSG > numOfSGs {
		return fmt.Errorf("CreateSettingGroupControlBlock %s: invalid actSG=%d numOfSGs=%d",
			ln.GetObjectReference(), actSG, numOfSGs)
	}
	key := ln.GetObjectReference()
	if _, ok := m.sgcbs[key]; ok {
		return fmt.Errorf("CreateSettingGroupControlBlock %s: already exists", key)
	}
	m.sgcbs[key] = &sgcbDecl{ln: ln, numOfSGs: numOfSGs, actSG: actSG}
	return nil
}

// GetModelNodeByObjectReference resolves an object reference to its node, or
// nil when the reference names nothing in the model.
func (m *IedModel) GetModelNodeByObjectReference(objectReference string) *ModelNode {
	return m.index[objectReference]
}

// GetDataSet resolves a data set reference ('.' or '$' separated), or nil.
func (m *IedModel) GetDataSet(dataSetReference string) *DataSet {
	if ds, ok := m.datasets[dataSetReference]; ok {
		return ds
	}
	return m.datasets[strings.ReplaceAll(dataSetReference, "$", ".")]
}

// logicalDevice returns the logical device node with the given name, or nil.
func (m *IedModel) logicalDevice(name string) *ModelNode {
	for _, ld := range m.devices {
		if ld.name == name {
			return ld
		}
	}
	return nil
}
