package history

// DefaultMaxRenderRows bounds how many rows a Window may materialize.
const DefaultMaxRenderRows = 200

// ViewportState describes the scroll container in pixels.
type ViewportState struct {
	ScrollOffsetPx    int `json:"scroll_offset_px"`
	ContainerHeightPx int `json:"container_height_px"`
	ItemHeightPx      int `json:"item_height_px"`
	BufferRows        int `json:"buffer_rows"`
}

func (vp ViewportState) normalized() ViewportState {
	if vp.ItemHeightPx <= 0 {
		vp.ItemHeightPx = 1
	}
	if vp.ScrollOffsetPx < 0 {
		vp.ScrollOffsetPx = 0
	}
	if vp.ContainerHeightPx < 0 {
		vp.ContainerHeightPx = 0
	}
	if vp.BufferRows < 0 {
		vp.BufferRows = 0
	}
	return vp
}

// Window is the row range [Start, End) to materialize plus the pixel geometry
// needed to position it inside a spacer of TotalHeightPx.
type Window struct {
	Start         int `json:"start"`
	End           int `json:"end"`
	OffsetTopPx   int `json:"offset_top_px"`
	TotalHeightPx int `json:"total_height_px"`
}

// Len is the number of rows in the window.
func (w Window) Len() int { return w.End - w.Start }

// ComputeWindow maps a viewport over total rows to the rows to render. When
// the buffered range exceeds maxRows, buffer rows are trimmed first, evenly
// from both sides, so fully visible rows stay covered as long as they fit.
// maxRows <= 0 disables the cap.
func ComputeWindow(vp ViewportState, total, maxRows int) Window {
	vp = vp.normalized()
	if total < 0 {
		total = 0
	}
	ih := vp.ItemHeightPx

	first := vp.ScrollOffsetPx / ih
	visible := ceilDiv(vp.ContainerHeightPx, ih)
	start := max(0, first-vp.BufferRows)
	end := min(total, start+visible+2*vp.BufferRows)
	if start > end {
		start = end
	}

	if maxRows > 0 && end-start > maxRows {
		fullStart := min(ceilDiv(vp.ScrollOffsetPx, ih), end)
		fullEnd := max(min((vp.ScrollOffsetPx+vp.ContainerHeightPx)/ih, end), fullStart)
		lead := max(0, fullStart-start)
		trail := max(0, end-fullEnd)

		excess := end - start - maxRows
		cutLead := min(lead, (excess+1)/2)
		cutTrail := min(trail, excess-cutLead)
		cutLead += min(lead-cutLead, excess-cutLead-cutTrail)
		start += cutLead
		end -= cutTrail
		if end-start > maxRows {
			end = start + maxRows
		}
	}

	return Window{
		Start:         start,
		End:           end,
		OffsetTopPx:   start * ih,
		TotalHeightPx: total * ih,
	}
}

// DistanceToBottomPx is how far the bottom edge of the viewport is from the
// end of total rows. It is negative when scrolled past the end.
func DistanceToBottomPx(vp ViewportState, total int) int {
	vp = vp.normalized()
	return total*vp.ItemHeightPx - (vp.ScrollOffsetPx + vp.ContainerHeightPx)
}

func ceilDiv(a, b int) int {
	if a <= 0 {
		return 0
	}
	return (a + b - 1) / b
}
