package iec61850

// ActiveSettingGroupChangedHandler vets a client request to switch the
// active setting group. Return false to reject the switch.
type ActiveSettingGroupChangedHandler func(ln *ModelNode, newActSg int, connection *ClientConnection) bool

// EditSettingGroupChangedHandler vets a client request to start editing a
// setting group. Return false to reject.
type EditSettingGroupChangedHandler func(ln *ModelNode, newEditSg int, connection *ClientConnection) bool

// EditSettingGroupConfirmationHandler vets a CnfEdit request. Return false
// to reject: the edit stays open and no group value changes.
type EditSettingGroupConfirmationHandler func(ln *ModelNode, editSg int) bool

// settingGroupControl is the server runtime of one SGCB: the active group,
// the edit workflow and the per group storage of the FC=SE attributes of its
// logical device.
type settingGroupControl struct {
	server *IedServer
	decl   *sgcbDecl
	lnRef  string

	actSG  int
	editSG int // 0 while no edit is in progress
	editBy ClientID

	editBuffer map[*ModelNode]*MmsValue
	seNodes    []*ModelNode

	activeChanged ActiveSettingGroupChangedHandler
	editChanged   EditSettingGroupChangedHandler
	editConfirmed EditSettingGroupConfirmationHandler
}

func newSettingGroupControl(s *IedServer, decl *sgcbDecl) *settingGroupControl {
	sg := &settingGroupControl{
		server: s,
		decl:   decl,
		lnRef:  decl.ln.GetObjectReference(),
		actSG:  decl.actSG,
	}
	ld := decl.ln
	for ld.parent != nil {
		ld = ld.parent
	}
	var walk func(n *ModelNode)
	walk = func(n *ModelNode) {
		if n.nodeType == MODEL_NODE_DATA_ATTRIBUTE && len(n.children) == 0 && n.fc == SE {
			if n.sgValues == nil {
				n.sgValues = make([]*MmsValue, decl.numOfSGs)
				for i := range n.sgValues {
					n.sgValues[i] = n.value.Clone()
				}
			}
			sg.seNodes = append(sg.seNodes, n)
			return
		}
		for _, c := range n.children {
			walk(c)
		}
	}
	walk(ld)
	return sg
}

// SetActiveSettingGroupChangedHandler installs the active group switch vet
// for the SGCB declared on the given logical node.
func (s *IedServer) SetActiveSettingGroupChangedHandler(ln *ModelNode, handler ActiveSettingGroupChangedHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sg := s.sgcbs[ln.GetObjectReference()]; sg != nil {
		sg.activeChanged = handler
	}
}

// SetEditSettingGroupChangedHandler installs the edit group vet.
func (s *IedServer) SetEditSettingGroupChangedHandler(ln *ModelNode, handler EditSettingGroupChangedHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sg := s.sgcbs[ln.GetObjectReference()]; sg != nil {
		sg.editChanged = handler
	}
}

// SetEditSettingGroupConfirmationHandler installs the edit confirmation
// observer.
func (s *IedServer) SetEditSettingGroupConfirmationHandler(ln *ModelNode, handler EditSettingGroupConfirmationHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sg := s.sgcbs[ln.GetObjectReference()]; sg != nil {
		sg.editConfirmed = handler
	}
}

// GetActiveSettingGroup returns the active group number of the SGCB declared
// on the given logical node, or 0 when none is declared.
func (s *IedServer) GetActiveSettingGroup(ln *ModelNode) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if sg := s.sgcbs[ln.GetObjectReference()]; sg != nil {
		return sg.actSG
	}
	return 0
}

// activeValue reads the active group value of an SE attribute (seen through
// FC=SG).
func (sg *settingGroupControl) activeValue(node *ModelNode) *MmsValue {
	if node.sgValues != nil && sg.actSG >= 1 && sg.actSG <= len(node.sgValues) {
		return node.sgValues[sg.actSG-1].Clone()
	}
	return node.value.Clone()
}

// editValue reads the edit buffer of an SE attribute. Without an edit in
// progress the active group is visible.
func (sg *settingGroupControl) editValue(node *ModelNode) *MmsValue {
	if sg.editSG != 0 {
		if v, ok := sg.editBuffer[node]; ok {
			return v.Clone()
		}
		if node.sgValues != nil && sg.editSG <= len(node.sgValues) {
			return node.sgValues[sg.editSG-1].Clone()
		}
	}
	return sg.activeValue(node)
}

// writeEditValue stores an SE attribute write into the edit buffer. Requires
// an edit group selected by the same association.
func (sg *settingGroupControl) writeEditValue(conn *ClientConnection, node *ModelNode, value *MmsValue) error {
	if sg.editSG == 0 || sg.editBy != conn.id {
		return IED_ERROR_TEMPORARILY_UNAVAILABLE
	}
	sg.editBuffer[node] = value.Clone()
	return nil
}

// variableSpec describes the SGCB structure as read by clients.
func (sg *settingGroupControl) variableSpec() *MmsVariableSpec {
	return &MmsVariableSpec{
		Type: Structure,
		Name: "SGCB",
		Structure: &MmsStructureSpec{Elements: []MmsVariableSpec{
			{Type: Integer, Name: "NumOfSG", IntegerBits: 8},
			{Type: Integer, Name: "ActSG", IntegerBits: 8},
			{Type: Integer, Name: "EditSG", IntegerBits: 8},
			{Type: Boolean, Name: "CnfEdit"},
		}},
	}
}

func (sg *settingGroupControl) readAttribute(attr string) (*MmsValue, error) {
	switch attr {
	case "":
		return NewStructureMmsValue([]*MmsValue{
			NewInt32MmsValue(int32(sg.decl.numOfSGs)),
			NewInt32MmsValue(int32(sg.actSG)),
			NewInt32MmsValue(int32(sg.editSG)),
			NewBooleanMmsValue(false),
		}), nil
	case "NumOfSG":
		return NewInt32MmsValue(int32(sg.decl.numOfSGs)), nil
	case "ActSG":
		return NewInt32MmsValue(int32(sg.actSG)), nil
	case "EditSG":
		return NewInt32MmsValue(int32(sg.editSG)), nil
	case "CnfEdit":
		return NewBooleanMmsValue(false), nil
	}
	return nil, IED_ERROR_OBJECT_DOES_NOT_EXIST
}

func (sg *settingGroupControl) writeAttribute(conn *ClientConnection, attr string, value *MmsValue) error {
	switch attr {
	case "ActSG":
		return sg.selectActive(conn, value.ToInt())
	case "EditSG":
		return sg.selectEdit(conn, value.ToInt())
	case "CnfEdit":
		if !value.ToBool() {
			return IED_ERROR_OBJECT_VALUE_INVALID
		}
		return sg.confirmEdit(conn)
	case "NumOfSG":
		return IED_ERROR_ACCESS_DENIED
	}
	return IED_ERROR_OBJECT_DOES_NOT_EXIST
}

func (sg *settingGroupControl) selectActive(conn *ClientConnection, group int) error {
	if group < 1 || group > sg.decl.numOfSGs {
		return IED_ERROR_OBJECT_VALUE_INVALID
	}
	if sg.activeChanged != nil && !sg.activeChanged(sg.decl.ln, group, conn) {
		return IED_ERROR_ACCESS_DENIED
	}
	if group == sg.actSG {
		return nil
	}
	sg.actSG = group
	// activating another group changes every setting value
	for _, node := range sg.seNodes {
		sg.server.recordChange(node, true)
	}
	sg.server.log.Infow("active setting group changed", "sgcb", sg.lnRef, "actSG", group)
	return nil
}

func (sg *settingGroupControl) selectEdit(conn *ClientConnection, group int) error {
	if !sg.server.cfg.EnableEditSG {
		return IED_ERROR_ACCESS_DENIED
	}
	if group < 0 || group > sg.decl.numOfSGs {
		return IED_ERROR_OBJECT_VALUE_INVALID
	}
	if sg.editSG != 0 && sg.editBy != conn.id {
		return IED_ERROR_TEMPORARILY_UNAVAILABLE
	}
	if group == 0 {
		sg.cancelEdit()
		return nil
	}
	if sg.editChanged != nil && !sg.editChanged(sg.decl.ln, group, conn) {
		return IED_ERROR_ACCESS_DENIED
	}
	sg.editSG = group
	sg.editBy = conn.id
	sg.editBuffer = make(map[*ModelNode]*MmsValue)
	return nil
}

func (sg *settingGroupControl) confirmEdit(conn *ClientConnection) error {
	if sg.editSG == 0 || sg.editBy != conn.id {
		return IED_ERROR_TEMPORARILY_UNAVAILABLE
	}
	group := sg.editSG
	if sg.editConfirmed != nil && !sg.editConfirmed(sg.decl.ln, group) {
		return IED_ERROR_ACCESS_DENIED
	}
	for node, value := range sg.editBuffer {
		if node.sgValues != nil && group <= len(node.sgValues) {
			node.sgValues[group-1] = value.Clone()
			if group == sg.actSG {
				sg.server.recordChange(node, true)
			}
		}
	}
	sg.cancelEdit()
	sg.server.log.Infow("setting group edit confirmed", "sgcb", sg.lnRef, "group", group)
	return nil
}

func (sg *settingGroupControl) cancelEdit() {
	sg.editSG = 0
	sg.editBy = 0
	sg.editBuffer = nil
}

// onDisconnect abandons an edit left open by a closing association.
func (sg *settingGroupControl) onDisconnect(id ClientID) {
	if sg.editSG != 0 && sg.editBy == id {
		sg.cancelEdit()
	}
}
