package keytab

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/soltia48/felica-dumper/pkg/felica"
	"github.com/soltia48/felica-dumper/pkg/hexutil"
)

const sampleCSV = `system_code,node,version,key
0003,FFFF,1,00112233445566778899AABBCCDDEEFF
0003,0000,1,0102030405060708090A0B0C0D0E0F10
0003,000B,2,FFEEDDCCBBAA99887766554433221100
FE00,000B,1,A0A1A2A3A4A5A6A7A8A9AAABACADAEAF
`

func TestLoad(t *testing.T) {
	table, err := Load(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if table.Len() != 4 {
		t.Errorf("Len() = %d; want 4", table.Len())
	}
	if n := table.CountForSystem(0x0003); n != 3 {
		t.Errorf("CountForSystem(0003) = %d; want 3", n)
	}

	entry, ok := table.Lookup(0x0003, 0x000B)
	if !ok {
		t.Fatal("service key 000B should be present")
	}

	want := Entry{System: 0x0003, Node: 0x000B, Version: 2}
	copy(want.Key[:], hexutil.Hex("FF EE DD CC BB AA 99 88 77 66 55 44 33 22 11 00"))
	if diff := cmp.Diff(want, entry); diff != "" {
		t.Errorf("entry mismatch (-want +got):\n%s", diff)
	}
}

func TestLookupScopesBySystem(t *testing.T) {
	table, err := Load(strings.NewReader(sampleCSV))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	feEntry, ok := table.Lookup(0xFE00, 0x000B)
	if !ok || feEntry.Version != 1 {
		t.Errorf("Lookup(FE00, 000B) = %v, %v", feEntry, ok)
	}

	if _, ok := table.Lookup(0xFE00, SystemKeyNode); ok {
		t.Error("system FE00 has no system key registered")
	}
}

func TestLoadRejectsMalformedRows(t *testing.T) {
	tests := []struct {
		name string
		csv  string
	}{
		{"Bad Header", "node,key\n0003,00\n"},
		{"Short Key", "system_code,node,version,key\n0003,000B,1,AABB\n"},
		{"Bad System Code", "system_code,node,version,key\nZZZZ,000B,1,00112233445566778899AABBCCDDEEFF\n"},
		{"Bad Version", "system_code,node,version,key\n0003,000B,x,00112233445566778899AABBCCDDEEFF\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Load(strings.NewReader(tt.csv)); err == nil {
				t.Error("expected load error")
			}
		})
	}
}

func TestLoadEmpty(t *testing.T) {
	table, err := Load(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if table.Len() != 0 {
		t.Errorf("Len() = %d; want 0", table.Len())
	}
}

func TestEntryKind(t *testing.T) {
	tests := []struct {
		node felica.NodeCode
		want KeyKind
	}{
		{SystemKeyNode, KeySystem},
		{RootAreaKeyNode, KeyArea},
		{0x0040, KeyArea},    // sub-area, attribute 0
		{0x0041, KeyArea},    // sub-area end attribute
		{0x000B, KeyService}, // random service
		{0x1008, KeyService},
	}

	for _, tt := range tests {
		e := Entry{Node: tt.node}
		if got := e.Kind(); got != tt.want {
			t.Errorf("Kind(%s) = %s; want %s", tt.node, got, tt.want)
		}
	}
}
