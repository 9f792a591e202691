package iec61850

import "fmt"

// GetRCBValues reads all elements of a report control block and returns a
// client side mirror. Setter calls on the mirror mark elements as changed;
// pass it back to SetRCBValues to write only those.
func (c *Client) GetRCBValues(objectReference string) (*ClientReportControlBlock, error) {
	resp, err := c.invoke(GetRCBRequest{Ref: objectReference})
	if err != nil {
		return nil, fmt.Errorf("GetRCBValues %s: %w", objectReference, err)
	}
	rcb := &ClientReportControlBlock{
		reference: objectReference,
		values:    resp.(GetRCBResponse).Values,
	}
	return rcb, nil
}

// SetRCBValues writes the changed elements of the given RCB mirror in a
// single request. On success the change mask is cleared.
//
// For buffered RCBs the server rejects configuration writes while RptEna is
// true; disable first, configure, then enable. The granular setters
// (SetRptEna, SetTrgOps, SetDataSetReference) make that ordering explicit.
func (c *Client) SetRCBValues(objectReference string, rcb *ClientReportControlBlock) error {
	if rcb == nil || rcb.elementChanged == 0 {
		return nil
	}
	_, err := c.invoke(SetRCBRequest{
		Ref:           objectReference,
		Values:        rcb.values,
		Elements:      rcb.elementChanged,
		SingleRequest: true,
	})
	if err != nil {
		return fmt.Errorf("SetRCBValues %s: %w", objectReference, err)
	}
	rcb.elementChanged = 0
	return nil
}

// SubscribeOptions carries the optional RCB configuration applied by
// Subscribe before enabling. Nil fields leave the server side value
// untouched.
type SubscribeOptions struct {
	TrgOps  *TrgOps
	IntgPd  *uint32
	OptFlds *OptFlds
}

// Subscribe configures an RCB and enables reporting on it: the requested
// options go out as one all-or-nothing write, then RptEna is set in a
// second. A failed configuration write leaves the RCB disabled.
func (c *Client) Subscribe(objectReference string, opts SubscribeOptions) error {
	var values RCBValues
	var elements RcbElement
	if opts.TrgOps != nil {
		values.TrgOps = *opts.TrgOps
		elements |= RCB_ELEMENT_TRG_OPS
	}
	if opts.IntgPd != nil {
		values.IntgPd = *opts.IntgPd
		elements |= RCB_ELEMENT_INTG_PD
	}
	if opts.OptFlds != nil {
		values.OptFlds = *opts.OptFlds
		elements |= RCB_ELEMENT_OPT_FLDS
	}
	if elements != 0 {
		_, err := c.invoke(SetRCBRequest{
			Ref:           objectReference,
			Values:        values,
			Elements:      elements,
			SingleRequest: true,
		})
		if err != nil {
			return fmt.Errorf("Subscribe %s: %w", objectReference, err)
		}
	}
	if err := c.setRCBElement(objectReference, RCBValues{RptEna: true}, RCB_ELEMENT_RPT_ENA); err != nil {
		return fmt.Errorf("Subscribe %s: %w", objectReference, err)
	}
	return nil
}

func (c *Client) setRCBElement(objectReference string, values RCBValues, element RcbElement) error {
	_, err := c.invoke(SetRCBRequest{Ref: objectReference, Values: values, Elements: element})
	return err
}

// SetRptEna writes only the RptEna flag of an RCB (enable/disable reporting).
func (c *Client) SetRptEna(objectReference string, enable bool) error {
	if err := c.setRCBElement(objectReference, RCBValues{RptEna: enable}, RCB_ELEMENT_RPT_ENA); err != nil {
		return fmt.Errorf("SetRptEna %s: %w", objectReference, err)
	}
	return nil
}

// SetTrgOps writes only the trigger options of an RCB.
func (c *Client) SetTrgOps(objectReference string, ops TrgOps) error {
	if err := c.setRCBElement(objectReference, RCBValues{TrgOps: ops}, RCB_ELEMENT_TRG_OPS); err != nil {
		return fmt.Errorf("SetTrgOps %s: %w", objectReference, err)
	}
	return nil
}

// SetOptFlds writes only the optional fields selection of an RCB.
func (c *Client) SetOptFlds(objectReference string, optFlds OptFlds) error {
	if err := c.setRCBElement(objectReference, RCBValues{OptFlds: optFlds}, RCB_ELEMENT_OPT_FLDS); err != nil {
		return fmt.Errorf("SetOptFlds %s: %w", objectReference, err)
	}
	return nil
}

// SetBufTm writes only the BufTm (buffer time in ms) of an RCB.
func (c *Client) SetBufTm(objectReference string, bufTm uint32) error {
	if err := c.setRCBElement(objectReference, RCBValues{BufTm: bufTm}, RCB_ELEMENT_BUF_TM); err != nil {
		return fmt.Errorf("SetBufTm %s: %w", objectReference, err)
	}
	return nil
}

// SetIntgPd writes only the IntgPd (integrity period in ms) of an RCB.
func (c *Client) SetIntgPd(objectReference string, intgPd uint32) error {
	if err := c.setRCBElement(objectReference, RCBValues{IntgPd: intgPd}, RCB_ELEMENT_INTG_PD); err != nil {
		return fmt.Errorf("SetIntgPd %s: %w", objectReference, err)
	}
	return nil
}

// SetGI sets the GI flag of an RCB (request a general interrogation report).
func (c *Client) SetGI(objectReference string, gi bool) error {
	if err := c.setRCBElement(objectReference, RCBValues{GI: gi}, RCB_ELEMENT_GI); err != nil {
		return fmt.Errorf("SetGI %s: %w", objectReference, err)
	}
	return nil
}

// SetResv writes only the Resv flag of an unbuffered RCB (exclusive
// reservation for this association).
func (c *Client) SetResv(objectReference string, resv bool) error {
	if err := c.setRCBElement(objectReference, RCBValues{Resv: resv}, RCB_ELEMENT_RESV); err != nil {
		return fmt.Errorf("SetResv %s: %w", objectReference, err)
	}
	return nil
}

// SetPurgeBuf requests a purge of all buffered entries of a BRCB.
func (c *Client) SetPurgeBuf(objectReference string) error {
	if err := c.setRCBElement(objectReference, RCBValues{PurgeBuf: true, IsBuffered: true}, RCB_ELEMENT_PURGE_BUF); err != nil {
		return fmt.Errorf("SetPurgeBuf %s: %w", objectReference, err)
	}
	return nil
}

// SetEntryID sets the resumption point of a BRCB. On the next enable the
// server continues delivery with the entry following the given one; if that
// entry has already been purged, delivery restarts from the oldest entry and
// the first report carries the buffer overflow flag.
func (c *Client) SetEntryID(objectReference string, entryID []byte) error {
	values := RCBValues{EntryID: append([]byte(nil), entryID...), IsBuffered: true}
	if err := c.setRCBElement(objectReference, values, RCB_ELEMENT_ENTRY_ID); err != nil {
		return fmt.Errorf("SetEntryID %s: %w", objectReference, err)
	}
	return nil
}

// Note: Buffered vs Unbuffered is determined by selecting the appropriate RCB object (BRCB/URCB)
// in the server model. There is no client-side API to toggle this property.

// SetDataSetReference writes only the dataset reference (DatSet) of an RCB.
func (c *Client) SetDataSetReference(objectReference string, dataSetRef string) error {
	if err := c.setRCBElement(objectReference, RCBValues{DatSet: dataSetRef}, RCB_ELEMENT_DATSET); err != nil {
		return fmt.Errorf("SetDataSetReference %s: %w", objectReference, err)
	}
	return nil
}

func IsBitSet(val int, pos int) bool {
	return (val & (1 << pos)) != 0
}
