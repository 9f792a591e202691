package iec61850

import "sync/atomic"

// NameListHandler is invoked for asynchronous name-list responses.
// names contains the page of names received with this callback.
// If moreFollows is true, the server indicates that more elements are available
// and the caller can issue another async call with continueAfter set to the last name.
// When moreFollows is false, this request is completed.
type NameListHandler func(invokeID uint32, names []string, moreFollows bool, err error)

// VarSpecHandler is invoked for asynchronous variable specification responses.
type VarSpecHandler func(invokeID uint32, spec *MmsVariableSpec, err error)

var invokeIDGen atomic.Uint32

// continueNames drops everything up to and including continueAfter, matching
// the paging behavior of getNameList continuations.
func continueNames(names []string, continueAfter string) []string {
	if continueAfter == "" {
		return names
	}
	for i, name := range names {
		if name == continueAfter {
			return names[i+1:]
		}
	}
	return names
}

func (c *Client) asyncNameList(continueAfter string, handler NameListHandler,
	fetch func() ([]string, error)) (uint32, error) {

	invokeID := invokeIDGen.Add(1)
	go func() {
		names, err := fetch()
		if err != nil {
			handler(invokeID, nil, false, err)
			return
		}
		handler(invokeID, continueNames(names, continueAfter), false, nil)
	}()
	return invokeID, nil
}

// GetServerDirectoryAsync starts an asynchronous request for server directory (LD names).
// continueAfter: empty for first page, or the last received element for continuation calls.
// handler: will be invoked on response or timeout.
// Returns the invoke ID.
func (c *Client) GetServerDirectoryAsync(continueAfter string, handler NameListHandler) (uint32, error) {
	return c.asyncNameList(continueAfter, handler, c.GetServerDirectory)
}

// GetLogicalDeviceVariablesAsync starts an async request for MMS variable names of a logical device.
func (c *Client) GetLogicalDeviceVariablesAsync(ldName, continueAfter string, handler NameListHandler) (uint32, error) {
	return c.asyncNameList(continueAfter, handler, func() ([]string, error) {
		return c.GetLogicalDeviceVariables(ldName)
	})
}

// GetLogicalDeviceDataSetsAsync starts an async request for dataset names of a logical device.
func (c *Client) GetLogicalDeviceDataSetsAsync(ldName, continueAfter string, handler NameListHandler) (uint32, error) {
	return c.asyncNameList(continueAfter, handler, func() ([]string, error) {
		return c.GetLogicalDeviceDataSets(ldName)
	})
}

// GetVariableSpecificationAsync starts an async request to get variable specification.
func (c *Client) GetVariableSpecificationAsync(dataAttributeReference string, fc FC, handler VarSpecHandler) (uint32, error) {
	invokeID := invokeIDGen.Add(1)
	go func() {
		spec, err := c.GetVariableSpecification(dataAttributeReference, fc)
		handler(invokeID, spec, err)
	}()
	return invokeID, nil
}
