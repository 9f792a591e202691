package iec61850

import (
	"fmt"

	"github.com/spf13/cast"
)

const (
	ActDA  = "%s/%s.SGCB.ActSG"
	EditDA = "%s/%s.SGCB.EditSG"
	CnfDA  = "%s/%s.SGCB.CnfEdit"
)

type SettingGroup struct {
	NumOfSG int
	ActSG   int
	EditSG  int
	CnfEdit bool
}

// WriteSG edits one value of a setting group and activates it: set ActSG,
// open the edit buffer with EditSG, write the new value (FC=SE), then
// confirm with CnfEdit.
func (c *Client) WriteSG(ld, ln, objectRef string, fc FC, actSG int, value interface{}) error {
	// Set active setting group
	if err := c.WriteObject(fmt.Sprintf(ActDA, ld, ln), SP, actSG); err != nil {
		return fmt.Errorf("WriteSG set ActSG ld=%s ln=%s actSG=%d: %w", ld, ln, actSG, err)
	}

	// Set edit setting group
	if err := c.WriteObject(fmt.Sprintf(EditDA, ld, ln), SP, actSG); err != nil {
		return fmt.Errorf("WriteSG set EditSG ld=%s ln=%s actSG=%d: %w", ld, ln, actSG, err)
	}

	// Change a setting group value
	if err := c.WriteObject(objectRef, fc, value); err != nil {
		return fmt.Errorf("WriteSG write value %q fc=%s: %w", objectRef, fc, err)
	}

	// Confirm new setting group values
	if err := c.WriteObject(fmt.Sprintf(CnfDA, ld, ln), SP, true); err != nil {
		return fmt.Errorf("WriteSG confirm CnfEdit ld=%s ln=%s: %w", ld, ln, err)
	}
	return nil
}

// GetSG reads the setting group control block at the given reference.
func (c *Client) GetSG(objectRef string) (*SettingGroup, error) {
	sgcbVarSpec, err := c.GetVariableSpecification(objectRef, SP)
	if err != nil {
		return nil, fmt.Errorf("GetSG get var spec %q: %w", objectRef, err)
	}

	sgcbVal, err := c.ReadObject(objectRef, SP)
	if err != nil {
		return nil, fmt.Errorf("GetSG read object %q: %w", objectRef, err)
	}

	numOfSGValue, err := getSubElementValue(sgcbVal, sgcbVarSpec, "NumOfSG")
	if err != nil {
		return nil, fmt.Errorf("GetSG read NumOfSG from %q: %w", objectRef, err)
	}

	actSGValue, err := getSubElementValue(sgcbVal, sgcbVarSpec, "ActSG")
	if err != nil {
		return nil, fmt.Errorf("GetSG read ActSG from %q: %w", objectRef, err)
	}

	editSGValue, err := getSubElementValue(sgcbVal, sgcbVarSpec, "EditSG")
	if err != nil {
		return nil, fmt.Errorf("GetSG read EditSG from %q: %w", objectRef, err)
	}

	cnfEditValue, err := getSubElementValue(sgcbVal, sgcbVarSpec, "CnfEdit")
	if err != nil {
		return nil, fmt.Errorf("GetSG read CnfEdit from %q: %w", objectRef, err)
	}

	sg := &SettingGroup{
		NumOfSG: cast.ToInt(numOfSGValue.Value),
		ActSG:   cast.ToInt(actSGValue.Value),
		EditSG:  cast.ToInt(editSGValue.Value),
		CnfEdit: cast.ToBool(cnfEditValue.Value),
	}
	return sg, nil
}

// SelectActiveSG activates the given setting group.
func (c *Client) SelectActiveSG(ld, ln string, sg int) error {
	if err := c.WriteObject(fmt.Sprintf(ActDA, ld, ln), SP, sg); err != nil {
		return fmt.Errorf("SelectActiveSG ld=%s ln=%s sg=%d: %w", ld, ln, sg, err)
	}
	return nil
}

// SelectEditSG opens the edit buffer for the given setting group. Subsequent
// writes with FC=SE edit that group until CnfEdit confirms or another
// EditSG write discards them.
func (c *Client) SelectEditSG(ld, ln string, sg int) error {
	if err := c.WriteObject(fmt.Sprintf(EditDA, ld, ln), SP, sg); err != nil {
		return fmt.Errorf("SelectEditSG ld=%s ln=%s sg=%d: %w", ld, ln, sg, err)
	}
	return nil
}

// ConfirmEditSG commits the edited setting group values.
func (c *Client) ConfirmEditSG(ld, ln string) error {
	if err := c.WriteObject(fmt.Sprintf(CnfDA, ld, ln), SP, true); err != nil {
		return fmt.Errorf("ConfirmEditSG ld=%s ln=%s: %w", ld, ln, err)
	}
	return nil
}
