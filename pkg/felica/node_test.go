package felica

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestNodeCodeDecoding(t *testing.T) {
	tests := []struct {
		name         string
		code         NodeCode
		number       uint16
		serviceType  ServiceType
		requiresAuth bool
		accessType   string
	}{
		{"Random Read With Key", 0x000A, 0, ServiceTypeRandom, true, "read with key"},
		{"Random Read Without Key", 0x000B, 0, ServiceTypeRandom, false, "read w/o key"},
		{"Random Write With Key", 0x0048, 1, ServiceTypeRandom, true, "write with key"},
		{"Cyclic Read Without Key", 0x008F, 2, ServiceTypeCyclic, false, "read w/o key"},
		{"Purse Direct With Key", 0x0050, 1, ServiceTypePurse, true, "direct with key"},
		{"Purse Read Without Key", 0x0097, 2, ServiceTypePurse | 1, false, "read w/o key"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.code.Number(); got != tt.number {
				t.Errorf("Number() = %d; want %d", got, tt.number)
			}
			if got := tt.code.ServiceType(); got != tt.serviceType {
				t.Errorf("ServiceType() = %04b; want %04b", got, tt.serviceType)
			}
			if got := tt.code.RequiresAuthentication(); got != tt.requiresAuth {
				t.Errorf("RequiresAuthentication() = %v; want %v", got, tt.requiresAuth)
			}
			if got := tt.code.AccessType(); got != tt.accessType {
				t.Errorf("AccessType() = %q; want %q", got, tt.accessType)
			}
		})
	}
}

func TestServiceTypeString(t *testing.T) {
	tests := []struct {
		t    ServiceType
		want string
	}{
		{ServiceTypeRandom, "Random"},
		{ServiceTypeCyclic, "Cyclic"},
		{ServiceTypePurse, "Purse"},
		{ServiceTypePurse | 1, "Purse"},
		{ServiceTypeUnknown, "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.t.String(); got != tt.want {
			t.Errorf("ServiceType(%04b).String() = %q; want %q", byte(tt.t), got, tt.want)
		}
	}
}

func TestAreaContains(t *testing.T) {
	area := NewArea(0x0040, 0x00FF)

	if !area.Contains(0x0048) {
		t.Error("area should contain code inside its range")
	}
	if !area.Contains(0x0040) || !area.Contains(0x00FF) {
		t.Error("range boundaries should be inclusive")
	}
	if area.Contains(0x0100) {
		t.Error("code past the end marker should not be contained")
	}

	service := NewService(0x0048)
	if service.Contains(0x0048) {
		t.Error("services never contain other nodes")
	}
}

func TestServiceTreeAccessors(t *testing.T) {
	tree := &ServiceTree{
		System: 0x0003,
		Nodes: []Node{
			NewArea(0x0000, 0xFFFE),
			NewArea(0x0040, 0x00FF),
			NewService(0x0048),
			NewService(0x1008),
			NewArea(0x1000, 0x10FF),
		},
	}

	services := tree.Services()
	if len(services) != 2 || services[0].Code != 0x0048 || services[1].Code != 0x1008 {
		t.Errorf("Services() = %v", services)
	}

	areas := tree.Areas()
	if len(areas) != 3 {
		t.Errorf("Areas() returned %d nodes; want 3", len(areas))
	}

	want := []Node{
		NewArea(0x0000, 0xFFFE),
		NewArea(0x0040, 0x00FF),
	}
	if diff := cmp.Diff(want, tree.ContainingAreas(0x0048)); diff != "" {
		t.Errorf("ContainingAreas(0048) mismatch (-want +got):\n%s", diff)
	}

	want = []Node{
		NewArea(0x0000, 0xFFFE),
		NewArea(0x1000, 0x10FF),
	}
	if diff := cmp.Diff(want, tree.ContainingAreas(0x1008)); diff != "" {
		t.Errorf("ContainingAreas(1008) mismatch (-want +got):\n%s", diff)
	}
}
