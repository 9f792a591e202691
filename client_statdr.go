package iec61850

import (
	"fmt"
	"strings"
)

func sameDataSet(a, b string) bool {
	// normalize LN/DataSet separator: $ or .
	norm := func(s string) string {
		return strings.ReplaceAll(s, "$", ".")
	}
	return norm(a) == norm(b)
}

// PickAndEnableStatDRBRCB selects a free buffered report control block (BRCB)
// under <ld>/<ln> matching the prefix "rcbStatDR" (case-sensitive), configures
// it to the provided datasetRef, sets reasonable trigger options and timing,
// enables reporting, and returns the full RCB reference and a cleanup function
// that disables the RCB (RptEna=false).
//
// The function tries all matching RCBs and returns the first that can be
// successfully enabled. If none can be enabled it returns an error.
func (c *Client) PickAndEnableStatDRBRCB(ld, ln string, datasetRef string) (string, func() error, error) {
	lnRef := fmt.Sprintf("%s/%s", ld, ln)

	c.log.Infow("picking free StatDR BRCB", "ln", lnRef)

	// List all BRCB names for the logical node
	names, err := c.GetLogicalNodeDirectory(lnRef, ACSI_CLASS_BRCB)
	if err != nil {
		return "", nil, fmt.Errorf("failed to list BRCBs for %s: %w", lnRef, err)
	}

	// Try all RCBs with prefix rcbStatDR
	for _, name := range names {
		if !strings.HasPrefix(name, "rcbStatDR") { // exact, case-sensitive prefix match
			c.log.Debugw("skipping RCB, not a rcbStatDRxx", "rcb", name)
			continue
		}
		rcbRef := fmt.Sprintf("%s.BR.%s", lnRef, name)

		c.log.Debugw("trying RCB", "rcb", rcbRef)

		rcb, err := c.GetRCBValues(rcbRef)
		if err != nil {
			c.log.Debugw("GetRCBValues failed, trying next rcb", "rcb", rcbRef, "err", err)
			continue
		}

		if !sameDataSet(rcb.DatSet(), datasetRef) {
			// Dataset mismatch - try next candidate
			c.log.Debugw("dataset mismatch, trying next rcb", "rcb", rcbRef,
				"want", datasetRef, "got", rcb.DatSet())
			continue
		}

		c.log.Infow("found free StatDR BRCB", "rcb", rcbRef, "dataset", datasetRef)

		// If already enabled, try to disable first to take ownership
		if rcb.RptEna() {
			if err := c.SetRptEna(rcbRef, false); err != nil {
				// cannot disable -> try next
				continue
			}
			// re-read to confirm disabled
			rcb, err = c.GetRCBValues(rcbRef)
			if err != nil {
				c.log.Debugw("re-read after disable failed, trying next rcb", "rcb", rcbRef, "err", err)
				continue
			}
			if rcb.RptEna() {
				c.log.Debugw("RCB still enabled, trying next rcb", "rcb", rcbRef)
				continue
			}
		}

		// Configure trigger options and timing
		ops := TrgOps{DataChange: true, TriggeredPeriodically: false, Gi: true}
		if err := c.SetTrgOps(rcbRef, ops); err != nil {
			// some IEDs may restrict changes, still continue
			c.log.Debugw("SetTrgOps failed, ignoring", "rcb", rcbRef, "err", err)
		}
		// BufTm typical for StatDR
		if err := c.SetBufTm(rcbRef, 50); err != nil {
			c.log.Debugw("SetBufTm failed, ignoring", "rcb", rcbRef, "err", err)
		}
		if err := c.SetGI(rcbRef, true); err != nil {
			c.log.Debugw("SetGI failed, ignoring", "rcb", rcbRef, "err", err)
		}

		// Enable
		if err := c.SetRptEna(rcbRef, true); err != nil {
			c.log.Debugw("SetRptEna failed, trying next rcb", "rcb", rcbRef, "err", err)
			continue
		}
		// Success
		cleanup := func() error {
			return c.SetRptEna(rcbRef, false)
		}
		return rcbRef, cleanup, nil
	}

	return "", nil, fmt.Errorf("no free rcbStatDRxx available under %s", lnRef)
}
