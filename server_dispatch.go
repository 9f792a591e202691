package iec61850

import (
	"fmt"
	"sort"
	"strings"
)

// dispatchRequest routes one client service request. All handlers except
// control run under the server lock; control manages its own locking because
// an operate may suspend on a wait-for-execution handler.
func (s *IedServer) dispatchRequest(conn *ClientConnection, req ServiceRequest) (ServiceResponse, error) {
	if cr, ok := req.(ControlRequest); ok {
		return s.handleControl(conn, cr)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch r := req.(type) {
	case ReadObjectRequest:
		return s.handleReadLocked(conn, r)
	case WriteObjectRequest:
		return s.handleWriteLocked(conn, r)
	case GetServerDirectoryRequest:
		names := make([]string, 0, len(s.model.devices))
		for _, ld := range s.model.devices {
			names = append(names, ld.name)
		}
		return GetServerDirectoryResponse{Names: names}, nil
	case GetLogicalDeviceDirectoryRequest:
		ld := s.model.logicalDevice(r.Ld)
		if ld == nil {
			return nil, IED_ERROR_OBJECT_DOES_NOT_EXIST
		}
		names := make([]string, 0, len(ld.children))
		for _, ln := range ld.children {
			names = append(names, ln.name)
		}
		return GetLogicalDeviceDirectoryResponse{Names: names}, nil
	case GetDirectoryRequest:
		return s.handleGetDirectoryLocked(r)
	case GetDataDirectoryRequest:
		return s.handleDataDirectoryLocked(r)
	case ReadDataSetRequest:
		return s.handleReadDataSetLocked(conn, r)
	case CreateDataSetRequest:
		return s.handleCreateDataSetLocked(conn, r)
	case DeleteDataSetRequest:
		return s.handleDeleteDataSetLocked(conn, r)
	case GetDataSetDirectoryRequest:
		ds := s.resolveDataSetLocked(conn, r.Ref)
		if ds == nil {
			return nil, IED_ERROR_OBJECT_DOES_NOT_EXIST
		}
		members := make([]string, 0, len(ds.members))
		for _, m := range ds.members {
			if m.fc != NONE {
				members = append(members, fmt.Sprintf("%s[%s]", m.ref, m.fc))
			} else {
				members = append(members, m.ref)
			}
		}
		return GetDataSetDirectoryResponse{Members: members, IsDeletable: ds.deletable}, nil
	case GetVariableSpecRequest:
		return s.handleVariableSpecLocked(r)
	case GetRCBRequest:
		rcb := s.lookupRCBLocked(r.Ref)
		if rcb == nil {
			return nil, IED_ERROR_OBJECT_DOES_NOT_EXIST
		}
		return rcb.handleGet(conn), nil
	case SetRCBRequest:
		rcb := s.lookupRCBLocked(r.Ref)
		if rcb == nil {
			return nil, IED_ERROR_OBJECT_DOES_NOT_EXIST
		}
		if err := rcb.handleSet(conn, r); err != nil {
			return nil, err
		}
		return SetRCBResponse{}, nil
	default:
		return nil, IED_ERROR_SERVICE_NOT_IMPLEMENTED
	}
}

func normalizeRef(ref string) string {
	return strings.ReplaceAll(ref, "$", ".")
}

func (s *IedServer) lookupRCBLocked(ref string) *ReportControlBlock {
	return s.rcbs[normalizeRef(ref)]
}

// sgControlForRef matches references of the form "<ld>/<ln>.SGCB" or
// "<ld>/<ln>.SGCB.<attr>" against the declared SGCBs.
func (s *IedServer) sgControlForRef(ref string) (*settingGroupControl, string) {
	ref = normalizeRef(ref)
	i := strings.Index(ref, ".SGCB")
	if i == -1 {
		return nil, ""
	}
	sg := s.sgcbs[ref[:i]]
	if sg == nil {
		return nil, ""
	}
	rest := strings.TrimPrefix(ref[i:], ".SGCB")
	return sg, strings.TrimPrefix(rest, ".")
}

// sgControlForNode returns the SGCB governing a data attribute, matched by
// logical device.
func (s *IedServer) sgControlForNode(node *ModelNode) *settingGroupControl {
	ld := node
	for ld.parent != nil {
		ld = ld.parent
	}
	for _, sg := range s.sgcbs {
		sgLd := sg.decl.ln
		for sgLd.parent != nil {
			sgLd = sgLd.parent
		}
		if sgLd == ld {
			return sg
		}
	}
	return nil
}

func (s *IedServer) handleReadLocked(conn *ClientConnection, r ReadObjectRequest) (ServiceResponse, error) {
	if sg, attr := s.sgControlForRef(r.Ref); sg != nil {
		value, err := sg.readAttribute(attr)
		if err != nil {
			return nil, err
		}
		return ReadObjectResponse{Value: value}, nil
	}
	node := s.model.GetModelNodeByObjectReference(normalizeRef(r.Ref))
	if node == nil {
		return nil, IED_ERROR_OBJECT_DOES_NOT_EXIST
	}
	value := s.buildValueLocked(node, r.FC)
	if value == nil {
		return nil, IED_ERROR_OBJECT_DOES_NOT_EXIST
	}
	return ReadObjectResponse{Value: value}, nil
}

// buildValueLocked assembles the current value of a node filtered by FC.
// Data objects and composite attributes become structures; a node with no
// attribute under the requested FC yields nil.
func (s *IedServer) buildValueLocked(node *ModelNode, fc FC) *MmsValue {
	switch node.nodeType {
	case MODEL_NODE_DATA_ATTRIBUTE:
		if len(node.children) == 0 {
			if !fcMatches(node.fc, fc) {
				return nil
			}
			return s.attributeValueLocked(node, fc)
		}
	case MODEL_NODE_DATA_OBJECT, MODEL_NODE_LOGICAL_NODE:
	default:
		return nil
	}
	var elements []*MmsValue
	for _, child := range node.children {
		if v := s.buildValueLocked(child, fc); v != nil {
			elements = append(elements, v)
		}
	}
	if len(elements) == 0 {
		return nil
	}
	return NewStructureMmsValue(elements)
}

// attributeValueLocked reads a leaf value. Setting group members are
// declared with FC=SE; reading them with FC=SG yields the active group,
// any other FC the edit view.
func (s *IedServer) attributeValueLocked(node *ModelNode, filter FC) *MmsValue {
	if node.fc == SE {
		if sg := s.sgControlForNode(node); sg != nil {
			if filter == SG {
				return sg.activeValue(node)
			}
			return sg.editValue(node)
		}
	}
	if node.value == nil {
		return nil
	}
	return node.value.Clone()
}

// fcMatches also maps an SG filter onto SE attributes: the active setting
// group is addressed with FC=SG but the members are declared under SE.
func fcMatches(nodeFc, filter FC) bool {
	if filter == SG && nodeFc == SE {
		return true
	}
	return filter == ALL || filter == NONE || nodeFc == filter
}

func (s *IedServer) handleWriteLocked(conn *ClientConnection, r WriteObjectRequest) (ServiceResponse, error) {
	if r.Value == nil {
		return nil, IED_ERROR_USER_PROVIDED_INVALID_ARGUMENT
	}
	if sg, attr := s.sgControlForRef(r.Ref); sg != nil {
		if err := sg.writeAttribute(conn, attr, r.Value); err != nil {
			return nil, err
		}
		return WriteObjectResponse{}, nil
	}
	node := s.model.GetModelNodeByObjectReference(normalizeRef(r.Ref))
	if node == nil {
		return nil, IED_ERROR_OBJECT_DOES_NOT_EXIST
	}
	if node.nodeType != MODEL_NODE_DATA_ATTRIBUTE || len(node.children) != 0 {
		return nil, IED_ERROR_OBJECT_ACCESS_UNSUPPORTED
	}
	if r.FC != NONE && r.FC != ALL && node.fc != r.FC {
		return nil, IED_ERROR_OBJECT_DOES_NOT_EXIST
	}
	if handler, ok := s.writeHandlers[node]; ok {
		if res := handler(node, r.Value, conn); res != DATA_ACCESS_ERROR_SUCCESS {
			return nil, IED_ERROR_ACCESS_DENIED
		}
	} else if s.writePolicies[node.fc] != ACCESS_POLICY_ALLOW {
		return nil, IED_ERROR_ACCESS_DENIED
	}
	if !typeCompatible(node.mmsType, r.Value.Type) {
		return nil, IED_ERROR_TYPE_INCONSISTENT
	}

	if node.fc == SE {
		sg := s.sgControlForNode(node)
		if sg == nil {
			return nil, IED_ERROR_OBJECT_ACCESS_UNSUPPORTED
		}
		if err := sg.writeEditValue(conn, node, r.Value); err != nil {
			return nil, err
		}
		return WriteObjectResponse{}, nil
	}

	s.beginBatchLocked()
	changed := node.value == nil || !node.value.Equal(r.Value)
	node.value = r.Value.Clone()
	s.recordChange(node, changed)
	s.commitBatchLocked()
	return WriteObjectResponse{}, nil
}

// typeCompatible accepts a written value for an attribute. The integer
// families are interchangeable on the wire.
func typeCompatible(attr, written MmsType) bool {
	if attr == written {
		return true
	}
	isInt := func(t MmsType) bool {
		switch t {
		case Integer, Int8, Int16, Int32, Int64:
			return true
		}
		return false
	}
	isUint := func(t MmsType) bool {
		switch t {
		case Unsigned, Uint8, Uint16, Uint32:
			return true
		}
		return false
	}
	if isInt(attr) && isInt(written) {
		return true
	}
	if isUint(attr) && isUint(written) {
		return true
	}
	return false
}

func (s *IedServer) handleGetDirectoryLocked(r GetDirectoryRequest) (ServiceResponse, error) {
	ref := normalizeRef(r.Ref)
	if ld := s.model.logicalDevice(ref); ld != nil {
		switch r.Class {
		case ACSI_CLASS_DATA_OBJECT:
			return GetDirectoryResponse{Names: s.flatVariableListLocked(ld)}, nil
		case ACSI_CLASS_DATA_SET:
			var names []string
			for _, ds := range s.model.datasets {
				if dsLd := ds.ln; dsLd != nil {
					top := dsLd
					for top.parent != nil {
						top = top.parent
					}
					if top == ld {
						names = append(names, fmt.Sprintf("%s$%s", ds.ln.name, ds.name))
					}
				}
			}
			sort.Strings(names)
			return GetDirectoryResponse{Names: names}, nil
		default:
			return GetDirectoryResponse{}, nil
		}
	}
	ln := s.model.GetModelNodeByObjectReference(ref)
	if ln == nil || ln.nodeType != MODEL_NODE_LOGICAL_NODE {
		return nil, IED_ERROR_OBJECT_DOES_NOT_EXIST
	}
	var names []string
	switch r.Class {
	case ACSI_CLASS_DATA_OBJECT:
		for _, do := range ln.children {
			if do.nodeType == MODEL_NODE_DATA_OBJECT {
				names = append(names, do.name)
			}
		}
	case ACSI_CLASS_DATA_SET:
		for _, ds := range s.model.datasets {
			if ds.ln == ln {
				names = append(names, ds.name)
			}
		}
		sort.Strings(names)
	case ACSI_CLASS_BRCB, ACSI_CLASS_URCB:
		buffered := r.Class == ACSI_CLASS_BRCB
		for _, decl := range s.model.rcbs {
			if decl.ln == ln && decl.buffered == buffered {
				names = append(names, decl.name)
			}
		}
	case ACSI_CLASS_SGCB:
		if _, ok := s.sgcbs[ln.GetObjectReference()]; ok {
			names = append(names, "SGCB")
		}
	}
	return GetDirectoryResponse{Names: names}, nil
}

// flatVariableListLocked yields the MMS variable names of a logical device in
// "LN$FC$DO$...$DA" form, including the RCB and SGCB names.
func (s *IedServer) flatVariableListLocked(ld *ModelNode) []string {
	var names []string
	for _, ln := range ld.children {
		names = append(names, ln.name)
		for _, decl := range s.model.rcbs {
			if decl.ln != ln {
				continue
			}
			fc := "RP"
			if decl.buffered {
				fc = "BR"
			}
			names = append(names, fmt.Sprintf("%s$%s$%s", ln.name, fc, decl.name))
		}
		if _, ok := s.sgcbs[ln.GetObjectReference()]; ok {
			names = append(names, fmt.Sprintf("%s$SP$SGCB", ln.name))
		}
		for _, do := range ln.children {
			if do.nodeType != MODEL_NODE_DATA_OBJECT {
				continue
			}
			var walk func(node *ModelNode, path string)
			walk = func(node *ModelNode, path string) {
				if node.nodeType == MODEL_NODE_DATA_ATTRIBUTE && len(node.children) == 0 {
					names = append(names, fmt.Sprintf("%s$%s$%s", ln.name, node.fc, path))
					return
				}
				for _, child := range node.children {
					walk(child, path+"$"+child.name)
				}
			}
			walk(do, do.name)
		}
	}
	return names
}

func (s *IedServer) handleDataDirectoryLocked(r GetDataDirectoryRequest) (ServiceResponse, error) {
	node := s.model.GetModelNodeByObjectReference(normalizeRef(r.Ref))
	if node == nil {
		return nil, IED_ERROR_OBJECT_DOES_NOT_EXIST
	}
	names := make([]string, 0, len(node.children))
	for _, child := range node.children {
		if r.WithFC && child.nodeType == MODEL_NODE_DATA_ATTRIBUTE {
			names = append(names, fmt.Sprintf("%s[%s]", child.name, child.fc))
		} else {
			names = append(names, child.name)
		}
	}
	return GetDataDirectoryResponse{Names: names}, nil
}

func (s *IedServer) handleReadDataSetLocked(conn *ClientConnection, r ReadDataSetRequest) (ServiceResponse, error) {
	ds := s.resolveDataSetLocked(conn, r.Ref)
	if ds == nil {
		return nil, IED_ERROR_OBJECT_DOES_NOT_EXIST
	}
	values := make([]*MmsValue, len(ds.members))
	for i, m := range ds.members {
		values[i] = s.buildValueLocked(m.node, m.fc)
	}
	return ReadDataSetResponse{Values: values}, nil
}

// resolveDataSetLocked finds a data set by reference. "@name" references
// resolve against the requesting association's private data sets.
func (s *IedServer) resolveDataSetLocked(conn *ClientConnection, ref string) *DataSet {
	ref = normalizeRef(ref)
	if strings.HasPrefix(ref, "@") {
		return conn.dynDatasets[ref]
	}
	return s.model.GetDataSet(ref)
}

func (s *IedServer) handleCreateDataSetLocked(conn *ClientConnection, r CreateDataSetRequest) (ServiceResponse, error) {
	if !s.cfg.EnableDynamicDataSetService {
		return nil, IED_ERROR_SERVICE_NOT_IMPLEMENTED
	}
	if len(r.Members) > s.cfg.MaxDataSetEntries {
		return nil, IED_ERROR_ACCESS_DENIED
	}
	ref := normalizeRef(r.Ref)

	if strings.HasPrefix(ref, "@") {
		if _, ok := conn.dynDatasets[ref]; ok {
			return nil, IED_ERROR_OBJECT_EXISTS
		}
		if len(conn.dynDatasets) >= s.cfg.MaxAssociationDatasets {
			return nil, IED_ERROR_ACCESS_DENIED
		}
		members, err := s.model.resolveDataSetMembers(ref, r.Members)
		if err != nil {
			return nil, IED_ERROR_OBJECT_DOES_NOT_EXIST
		}
		conn.dynDatasets[ref] = &DataSet{
			name:      strings.TrimPrefix(ref, "@"),
			ref:       ref,
			members:   members,
			deletable: true,
		}
		return CreateDataSetResponse{}, nil
	}

	i := strings.LastIndex(ref, ".")
	if i == -1 || !strings.Contains(ref, "/") {
		return nil, IED_ERROR_OBJECT_REFERENCE_INVALID
	}
	ln := s.model.GetModelNodeByObjectReference(ref[:i])
	if ln == nil || ln.nodeType != MODEL_NODE_LOGICAL_NODE {
		return nil, IED_ERROR_OBJECT_DOES_NOT_EXIST
	}
	if s.model.GetDataSet(ref) != nil {
		return nil, IED_ERROR_OBJECT_EXISTS
	}
	dynDomain := 0
	for _, ds := range s.model.datasets {
		if ds.deletable {
			dynDomain++
		}
	}
	if dynDomain >= s.cfg.MaxDomainDatasets {
		return nil, IED_ERROR_ACCESS_DENIED
	}
	ds, err := s.model.CreateDataSet(ln, ref[i+1:], r.Members...)
	if err != nil {
		return nil, IED_ERROR_OBJECT_DOES_NOT_EXIST
	}
	ds.deletable = true
	return CreateDataSetResponse{}, nil
}

func (s *IedServer) handleDeleteDataSetLocked(conn *ClientConnection, r DeleteDataSetRequest) (ServiceResponse, error) {
	if !s.cfg.EnableDynamicDataSetService {
		return nil, IED_ERROR_SERVICE_NOT_IMPLEMENTED
	}
	ref := normalizeRef(r.Ref)
	if strings.HasPrefix(ref, "@") {
		if _, ok := conn.dynDatasets[ref]; !ok {
			return nil, IED_ERROR_OBJECT_DOES_NOT_EXIST
		}
		delete(conn.dynDatasets, ref)
		return DeleteDataSetResponse{}, nil
	}
	ds := s.model.GetDataSet(ref)
	if ds == nil {
		return nil, IED_ERROR_OBJECT_DOES_NOT_EXIST
	}
	if !ds.deletable {
		return nil, IED_ERROR_ACCESS_DENIED
	}
	for _, rcb := range s.rcbs {
		if rcb.dataset == ds {
			return nil, IED_ERROR_TEMPORARILY_UNAVAILABLE
		}
	}
	delete(s.model.datasets, ds.ref)
	return DeleteDataSetResponse{}, nil
}

func (s *IedServer) handleVariableSpecLocked(r GetVariableSpecRequest) (ServiceResponse, error) {
	if sg, _ := s.sgControlForRef(r.Ref); sg != nil {
		return GetVariableSpecResponse{Spec: sg.variableSpec()}, nil
	}
	node := s.model.GetModelNodeByObjectReference(normalizeRef(r.Ref))
	if node == nil {
		return nil, IED_ERROR_OBJECT_DOES_NOT_EXIST
	}
	return GetVariableSpecResponse{Spec: buildSpec(node, r.FC)}, nil
}

// buildSpec mirrors buildValueLocked on the type level.
func buildSpec(node *ModelNode, fc FC) *MmsVariableSpec {
	switch node.nodeType {
	case MODEL_NODE_DATA_ATTRIBUTE:
		if len(node.children) == 0 {
			if !fcMatches(node.fc, fc) {
				return nil
			}
			return leafSpec(node.name, node.mmsType)
		}
	case MODEL_NODE_DATA_OBJECT, MODEL_NODE_LOGICAL_NODE:
	default:
		return nil
	}
	var elements []MmsVariableSpec
	for _, child := range node.children {
		if spec := buildSpec(child, fc); spec != nil {
			elements = append(elements, *spec)
		}
	}
	if len(elements) == 0 {
		return nil
	}
	return &MmsVariableSpec{
		Type:      Structure,
		Name:      node.name,
		Structure: &MmsStructureSpec{Elements: elements},
	}
}

func leafSpec(name string, t MmsType) *MmsVariableSpec {
	spec := &MmsVariableSpec{Type: t, Name: name}
	switch t {
	case Integer, Int8, Int16, Int32, Int64:
		spec.IntegerBits = 32
	case Unsigned, Uint8, Uint16, Uint32:
		spec.UnsignedBits = 32
	case Float:
		spec.FloatExponentWidth = 8
		spec.FloatFormatWidth = 32
	case BitString:
		spec.BitStringSize = 13
	case VisibleString:
		spec.VisibleStringSize = 255
	case String:
		spec.MmsStringSize = 255
	case OctetString:
		spec.OctetStringSize = 64
	case BinaryTime:
		spec.BinaryTimeSize = 6
	}
	return spec
}
