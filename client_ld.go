package iec61850

import (
	"fmt"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"
)

// GetVariableValues reads the full variable structure and values of the
// server, walking all logical devices concurrently.
func (c *Client) GetVariableValues() ([]VariableTypeValue, error) {
	ldNames, err := c.GetLogicalDeviceList()
	if err != nil {
		return nil, err
	}

	ret := make([]VariableTypeValue, 0)
	ch := make(chan []VariableTypeValue)

	wg := &sync.WaitGroup{}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for v := range ch {
			ret = append(ret, v...)
		}
	}()

	eg := errgroup.Group{}
	eg.SetLimit(2)

	type qvars struct {
		ld   string
		vars []FCVar
	}
	q := make([]qvars, 0)

	for _, ldName := range ldNames {
		variables, err := c.GetLogicalDeviceVariablesHierarchical(ldName)
		if err != nil {
			return nil, err
		}
		q = append(q, qvars{ldName, variables})
	}
	for _, qv := range q {
		for _, v := range qv.vars {
			v := v
			ldName := qv.ld
			for fc := range v.FCVars {
				fc := fc
				eg.Go(func() error {
					dataRef := fmt.Sprintf("%s/%s", ldName, v.LN)

					values, err := c.GetVariableTypeValues(dataRef, FunctionalConstraintFromString(fc))
					if err != nil {
						ch <- []VariableTypeValue{{
							Type:  0,
							Name:  v.LN,
							Ref:   dataRef,
							Value: err,
						}}
						return nil
					}

					ch <- values
					return nil
				})
			}
		}
	}

	err = eg.Wait()
	close(ch)
	wg.Wait()

	return ret, err
}

// GetDataModel discovers the full data model of the server: logical devices,
// logical nodes, data objects with their attribute trees, data sets, report
// control blocks and setting group control blocks.
func (c *Client) GetDataModel() (DataModel, error) {
	ldNames, err := c.GetLogicalDeviceList()
	if err != nil {
		return DataModel{}, err
	}

	var dataModel DataModel
	for _, name := range ldNames {
		var ld LD
		ld.Data = name
		dataModel.LDs = append(dataModel.LDs, ld)
	}

	for i, ld := range dataModel.LDs {
		logicalNodes, err := c.GetLogicalDeviceDirectory(ld.Data)
		if err != nil {
			return DataModel{}, err
		}

		for _, lnName := range logicalNodes {
			var ln LN
			ln.Data = lnName
			lnRef := fmt.Sprintf("%s/%s", ld.Data, lnName)
			ln.Ref = lnRef
			ld.LNs = append(ld.LNs, ln)
		}

		for j, ln := range ld.LNs {
			lnRef := ln.Ref

			dataObjects, err := c.GetLogicalNodeDirectory(lnRef, ACSI_CLASS_DATA_OBJECT)
			if err != nil {
				return DataModel{}, err
			}

			for _, doName := range dataObjects {
				var do DO
				do.Data = doName
				ln.DOs = append(ln.DOs, do)
			}

			for k, do := range ln.DOs {
				doRef := fmt.Sprintf("%s/%s.%s", ld.Data, ln.Data, do.Data)

				ln.DOs[k].DAs, err = c.GetDAs(doRef)
				if err != nil {
					return DataModel{}, err
				}
			}

			dataSets, err := c.GetLogicalNodeDirectory(lnRef, ACSI_CLASS_DATA_SET)
			if err != nil {
				return DataModel{}, err
			}
			for _, dsName := range dataSets {
				var ds DS
				ds.Data = dsName
				dataSetRef := fmt.Sprintf("%s.%s", lnRef, ds.Data)
				dataSetMembers, isDeletable, err := c.GetDataSetDirectory(dataSetRef)
				if err != nil {
					return DataModel{}, err
				}
				ds.IsDeletable = isDeletable
				for _, member := range dataSetMembers {
					var dsRef DSRef
					dsRef.Data = member
					ds.DSRefs = append(ds.DSRefs, dsRef)
				}
				ln.DSs = append(ln.DSs, ds)
			}

			reports, err := c.GetLogicalNodeDirectory(lnRef, ACSI_CLASS_URCB)
			if err != nil {
				return DataModel{}, err
			}
			for _, name := range reports {
				var r URReport
				r.Data = name
				r.Ref = fmt.Sprintf("%s.%s", lnRef, r.Data)
				ln.URReports = append(ln.URReports, r)
			}

			reports, err = c.GetLogicalNodeDirectory(lnRef, ACSI_CLASS_BRCB)
			if err != nil {
				return DataModel{}, err
			}
			for _, name := range reports {
				var r BRReport
				r.Data = name
				r.Ref = fmt.Sprintf("%s.%s", lnRef, r.Data)
				ln.BRReports = append(ln.BRReports, r)
			}

			sgcbs, err := c.GetLogicalNodeDirectory(lnRef, ACSI_CLASS_SGCB)
			if err != nil {
				return DataModel{}, err
			}
			for _, name := range sgcbs {
				var sg SGCBRef
				sg.Data = name
				sg.Ref = fmt.Sprintf("%s.%s", lnRef, sg.Data)
				ln.SGCBs = append(ln.SGCBs, sg)
			}

			ld.LNs[j] = ln
		}
		dataModel.LDs[i] = ld
	}
	return dataModel, nil
}

// GetDAs discovers the data attribute tree of a data object recursively.
func (c *Client) GetDAs(doRef string) ([]DA, error) {
	// Attribute names may include an FC suffix like "DA1[ST]"
	rawNames, err := c.GetDataDirectoryFC(doRef)
	if err != nil {
		return nil, err
	}

	var das []DA
	for _, rawName := range rawNames {
		var da DA

		// Extract optional FC suffix like "name[ST]"
		name := rawName
		fc := NONE
		if i := strings.LastIndex(rawName, "["); i != -1 && strings.HasSuffix(rawName, "]") && i < len(rawName)-1 {
			fcStr := rawName[i+1 : len(rawName)-1]
			fc = FunctionalConstraintFromString(fcStr)
			name = rawName[:i]
		}

		da.Data = name
		da.FC = fc
		da.Ref = fmt.Sprintf("%s.%s", doRef, da.Data)

		// Recurse for sub DAs using the clean reference (without FC suffix)
		da.DAs, err = c.GetDAs(da.Ref)
		if err != nil {
			return nil, err
		}

		das = append(das, da)
	}

	return das, nil
}

// GetLogicalDeviceDirectory lists the logical node names of a logical device.
func (c *Client) GetLogicalDeviceDirectory(logicalDeviceName string) ([]string, error) {
	resp, err := c.invoke(GetLogicalDeviceDirectoryRequest{Ld: logicalDeviceName})
	if err != nil {
		return nil, fmt.Errorf("GetLogicalDeviceDirectory %s: %w", logicalDeviceName, err)
	}
	return resp.(GetLogicalDeviceDirectoryResponse).Names, nil
}

// GetLogicalNodeDirectory lists child object names of a logical node,
// filtered by ACSI class (data objects, data sets, RCBs, SGCBs, ...).
func (c *Client) GetLogicalNodeDirectory(logicalNodeReference string, acsiClass ACSIClass) ([]string, error) {
	resp, err := c.invoke(GetDirectoryRequest{Ref: logicalNodeReference, Class: acsiClass})
	if err != nil {
		return nil, fmt.Errorf("GetLogicalNodeDirectory %s: %w", logicalNodeReference, err)
	}
	return resp.(GetDirectoryResponse).Names, nil
}

// GetDataSetDirectory lists the member references of a data set and whether
// the data set is deletable.
func (c *Client) GetDataSetDirectory(dataSetReference string) ([]string, bool, error) {
	resp, err := c.invoke(GetDataSetDirectoryRequest{Ref: dataSetReference})
	if err != nil {
		return nil, false, fmt.Errorf("GetDataSetDirectory %s: %w", dataSetReference, err)
	}
	r := resp.(GetDataSetDirectoryResponse)
	return r.Members, r.IsDeletable, nil
}

// GetDataDirectoryFC lists the child attribute names of a data object with
// their functional constraints as "name[FC]" suffixes.
func (c *Client) GetDataDirectoryFC(dataObjectReference string) ([]string, error) {
	resp, err := c.invoke(GetDataDirectoryRequest{Ref: dataObjectReference, WithFC: true})
	if err != nil {
		return nil, fmt.Errorf("GetDataDirectoryFC %s: %w", dataObjectReference, err)
	}
	return resp.(GetDataDirectoryResponse).Names, nil
}

// GetDataDirectory lists the child attribute names of a data object.
func (c *Client) GetDataDirectory(dataObjectReference string) ([]string, error) {
	resp, err := c.invoke(GetDataDirectoryRequest{Ref: dataObjectReference})
	if err != nil {
		return nil, fmt.Errorf("GetDataDirectory %s: %w", dataObjectReference, err)
	}
	return resp.(GetDataDirectoryResponse).Names, nil
}

// GetServerDirectory lists the logical device names of the server.
func (c *Client) GetServerDirectory() ([]string, error) {
	resp, err := c.invoke(GetServerDirectoryRequest{})
	if err != nil {
		return nil, fmt.Errorf("GetServerDirectory: %w", err)
	}
	return resp.(GetServerDirectoryResponse).Names, nil
}

// GetLogicalDeviceList lists the logical device names of the server.
func (c *Client) GetLogicalDeviceList() ([]string, error) {
	return c.GetServerDirectory()
}
