package capture

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"
)

func TestClipBody(t *testing.T) {
	body := []byte(`{"items":[1,2,3]}`)
	full := sha256.Sum256(body)

	tests := []struct {
		name    string
		limit   int
		want    string
		clipped bool
	}{
		{name: "unlimited", limit: 0, want: string(body)},
		{name: "exact_fit", limit: len(body), want: string(body)},
		{name: "cut", limit: 9, want: `{"items":`, clipped: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clipBody(body, tt.limit)
			if string(got.Data) != tt.want {
				t.Fatalf("clipBody().Data = %q; want %q", got.Data, tt.want)
			}
			if got.Clipped() != tt.clipped {
				t.Fatalf("Clipped() = %v; want %v", got.Clipped(), tt.clipped)
			}
			if got, want := got.OriginalSize, len(body); got != want {
				t.Fatalf("OriginalSize = %d; want %d", got, want)
			}
			if tt.clipped && got.SHA256 != hex.EncodeToString(full[:]) {
				t.Fatalf("SHA256 = %q; want digest of the full body", got.SHA256)
			}
		})
	}
}
