package services

import (
	"context"
	"testing"

	"github.com/AnshRaj112/workbridge/internal/models"
)

func TestIdentityEncoding(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    models.Identity
		wantErr bool
	}{
		{name: "worker", raw: "worker:w1", want: models.Identity{ID: "w1", Role: models.RoleWorker}},
		{name: "employer with colon in id", raw: "employer:org:42", want: models.Identity{ID: "org:42", Role: models.RoleEmployer}},
		{name: "legacy bare id", raw: "6f1c2e", wantErr: true},
		{name: "unknown role", raw: "admin:a1", wantErr: true},
		{name: "empty id", raw: "worker:", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := decodeIdentity(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("decodeIdentity(%q) error = %v, wantErr %v", tt.raw, err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if got != tt.want {
				t.Errorf("decodeIdentity(%q) = %+v, want %+v", tt.raw, got, tt.want)
			}
			if enc := encodeIdentity(got); enc != tt.raw {
				t.Errorf("encodeIdentity(%+v) = %q, want %q", got, enc, tt.raw)
			}
		})
	}
}

func TestMemoryPresenceTransitions(t *testing.T) {
	p := NewMemoryPresence()
	ctx := context.Background()

	steps := []struct {
		connect bool
		changed bool
	}{
		{connect: true, changed: true},
		{connect: true, changed: false},
		{connect: false, changed: false},
		{connect: false, changed: true},
		{connect: false, changed: false},
	}
	for i, s := range steps {
		var changed bool
		var err error
		if s.connect {
			changed, err = p.Connect(ctx, "w1")
		} else {
			changed, err = p.Disconnect(ctx, "w1")
		}
		if err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
		if changed != s.changed {
			t.Errorf("step %d: changed = %v, want %v", i, changed, s.changed)
		}
	}

	online, _ := p.Online(ctx, []string{"w1"})
	if online["w1"] {
		t.Error("w1 should be offline after the last disconnect")
	}
}
