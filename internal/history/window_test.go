package history

import (
	"testing"
	"testing/quick"
)

func TestComputeWindow(t *testing.T) {
	tests := []struct {
		name    string
		vp      ViewportState
		total   int
		maxRows int
		want    Window
	}{
		{
			name:  "top",
			vp:    ViewportState{ScrollOffsetPx: 0, ContainerHeightPx: 400, ItemHeightPx: 40, BufferRows: 5},
			total: 1000,
			want:  Window{Start: 0, End: 20, OffsetTopPx: 0, TotalHeightPx: 40000},
		},
		{
			name:  "middle",
			vp:    ViewportState{ScrollOffsetPx: 4020, ContainerHeightPx: 400, ItemHeightPx: 40, BufferRows: 5},
			total: 1000,
			want:  Window{Start: 95, End: 115, OffsetTopPx: 3800, TotalHeightPx: 40000},
		},
		{
			name:  "near_end",
			vp:    ViewportState{ScrollOffsetPx: 39800, ContainerHeightPx: 400, ItemHeightPx: 40, BufferRows: 5},
			total: 1000,
			want:  Window{Start: 990, End: 1000, OffsetTopPx: 39600, TotalHeightPx: 40000},
		},
		{
			name:  "empty",
			vp:    ViewportState{ScrollOffsetPx: 500, ContainerHeightPx: 400, ItemHeightPx: 40, BufferRows: 5},
			total: 0,
			want:  Window{},
		},
		{
			name:    "capped_trims_buffer",
			vp:      ViewportState{ScrollOffsetPx: 4000, ContainerHeightPx: 400, ItemHeightPx: 40, BufferRows: 50},
			total:   1000,
			maxRows: 30,
			want:    Window{Start: 90, End: 120, OffsetTopPx: 3600, TotalHeightPx: 40000},
		},
		{
			name:  "degenerate_inputs",
			vp:    ViewportState{ScrollOffsetPx: -100, ContainerHeightPx: 3, ItemHeightPx: 0, BufferRows: -2},
			total: 10,
			want:  Window{Start: 0, End: 3, OffsetTopPx: 0, TotalHeightPx: 10},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeWindow(tt.vp, tt.total, tt.maxRows)
			if got != tt.want {
				t.Fatalf("ComputeWindow() = %+v; want %+v", got, tt.want)
			}
			if again := ComputeWindow(tt.vp, tt.total, tt.maxRows); again != got {
				t.Fatalf("ComputeWindow() not idempotent: %+v then %+v", got, again)
			}
		})
	}
}

func TestComputeWindowCoversVisibleRowsProperty(t *testing.T) {
	check := func(scroll, container uint16, item, buffer uint8, total uint16) bool {
		vp := ViewportState{
			ScrollOffsetPx:    int(scroll),
			ContainerHeightPx: int(container),
			ItemHeightPx:      int(item%64) + 1,
			BufferRows:        int(buffer % 20),
		}
		n := int(total)
		maxRows := 0
		if buffer%2 == 0 {
			// A cap that always fits the visible rows.
			maxRows = ceilDiv(vp.ContainerHeightPx, vp.ItemHeightPx) + 1
		}
		w := ComputeWindow(vp, n, maxRows)

		if w.Start < 0 || w.End > n || w.Start > w.End {
			return false
		}
		if maxRows > 0 && w.Len() > maxRows {
			return false
		}
		ih := vp.ItemHeightPx
		for i := ceilDiv(vp.ScrollOffsetPx, ih); i < n && (i+1)*ih <= vp.ScrollOffsetPx+vp.ContainerHeightPx; i++ {
			if i < w.Start || i >= w.End {
				return false
			}
		}
		return w.OffsetTopPx == w.Start*ih && w.TotalHeightPx == n*ih
	}
	if err := quick.Check(check, &quick.Config{MaxCount: 2000}); err != nil {
		t.Fatalf("coverage property failed: %v", err)
	}
}

func TestDistanceToBottomPx(t *testing.T) {
	vp := ViewportState{ScrollOffsetPx: 3500, ContainerHeightPx: 400, ItemHeightPx: 40}
	if got, want := DistanceToBottomPx(vp, 100), 100; got != want {
		t.Fatalf("DistanceToBottomPx() = %d; want %d", got, want)
	}
}
