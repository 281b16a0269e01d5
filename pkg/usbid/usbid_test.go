package usbid

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testDatabase = `# USB ID Database
# Comment line

1234  Test Vendor One
	5678  Test Product One
	9abc  Test Product Two
		00  Interface line
1633  AIM GmbH
	4510  ASC1553

# List of known device classes
C 00  (Defined at Interface level)
	01  Audio
0001  Another Vendor
	0002  Another Product
`

func parse(t *testing.T, content string) *Names {
	t.Helper()
	n := New()
	if err := n.Parse(strings.NewReader(content)); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return n
}

// =============================================================================
// Parsing Tests
// =============================================================================

func TestParse(t *testing.T) {
	n := parse(t, testDatabase)

	tests := []struct {
		name        string
		vid, pid    uint16
		wantVendor  string
		wantProduct string
	}{
		{"first vendor and product", 0x1234, 0x5678, "Test Vendor One", "Test Product One"},
		{"second product", 0x1234, 0x9abc, "Test Vendor One", "Test Product Two"},
		{"board", 0x1633, 0x4510, "AIM GmbH", "ASC1553"},
		{"after class section", 0x0001, 0x0002, "Another Vendor", "Another Product"},
		{"unknown vendor", 0xFFFF, 0x0000, "", ""},
		{"known vendor, unknown product", 0x1234, 0xFFFF, "Test Vendor One", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := n.Vendor(tt.vid); got != tt.wantVendor {
				t.Errorf("Vendor(%#04x) = %q, want %q", tt.vid, got, tt.wantVendor)
			}
			if got := n.Product(tt.vid, tt.pid); got != tt.wantProduct {
				t.Errorf("Product(%#04x, %#04x) = %q, want %q", tt.vid, tt.pid, got, tt.wantProduct)
			}
		})
	}
}

func TestParseSkipsClassEntries(t *testing.T) {
	n := parse(t, testDatabase)
	// "\t01  Audio" follows a class line and must not land under the
	// previous vendor.
	if got := n.Product(0x1633, 0x0001); got != "" {
		t.Errorf("Product(0x1633, 0x0001) = %q, want empty", got)
	}
	vendors, products := n.Len()
	if vendors != 3 || products != 4 {
		t.Errorf("Len() = %d, %d, want 3, 4", vendors, products)
	}
}

func TestMalformedLines(t *testing.T) {
	n := parse(t, `# Test malformed lines
1234  Valid Vendor
	5678  Valid Product
ZZZZ  Invalid VID (non-hex)
	YYYY  Invalid PID (non-hex)
12    Too short
	34    Too short
1234Valid Vendor No Space
	5678Valid Product No Space
9abc  Another Valid Vendor
	def0  Another Valid Product
`)

	if vendors, products := n.Len(); vendors != 2 || products != 2 {
		t.Errorf("Len() = %d, %d, want 2, 2", vendors, products)
	}
	if got := n.Product(0x9abc, 0xdef0); got != "Another Valid Product" {
		t.Errorf("Product(0x9abc, 0xdef0) = %q, want %q", got, "Another Valid Product")
	}
}

func TestParseKeepsExisting(t *testing.T) {
	n := New()
	n.AddProduct(0x1633, 0x4510, "ASC1553 (local)")
	if err := n.Parse(strings.NewReader(testDatabase)); err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if got := n.Product(0x1633, 0x4510); got != "ASC1553 (local)" {
		t.Errorf("Product() = %q, want the local name", got)
	}
}

// =============================================================================
// Lookup Tests
// =============================================================================

func TestDescribe(t *testing.T) {
	n := parse(t, testDatabase)
	n.AddProduct(0x1633, 0x5710, "ASC1553-Gen2")

	tests := []struct {
		vid, pid uint16
		want     string
	}{
		{0x1633, 0x4510, "AIM GmbH ASC1553"},
		{0x1633, 0x5710, "AIM GmbH ASC1553-Gen2"},
		{0x1633, 0x0001, "AIM GmbH 0001"},
		{0xdead, 0xbeef, "dead beef"},
	}
	for _, tt := range tests {
		if got := n.Describe(tt.vid, tt.pid); got != tt.want {
			t.Errorf("Describe(%#04x, %#04x) = %q, want %q", tt.vid, tt.pid, got, tt.want)
		}
	}
}

func TestAddVendor(t *testing.T) {
	n := New()
	n.AddVendor(0x1633, "AIM")
	if got := n.Vendor(0x1633); got != "AIM" {
		t.Errorf("Vendor() = %q, want %q", got, "AIM")
	}
}

// =============================================================================
// Load Tests
// =============================================================================

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "usb.ids")
	if err := os.WriteFile(path, []byte(testDatabase), 0o644); err != nil {
		t.Fatal(err)
	}

	n := New()
	got, err := n.Load(filepath.Join(dir, "missing.ids"), path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if got != path {
		t.Errorf("Load() path = %q, want %q", got, path)
	}
	if n.Vendor(0x1633) != "AIM GmbH" {
		t.Errorf("Vendor(0x1633) = %q after Load", n.Vendor(0x1633))
	}
}

func TestLoadNotFound(t *testing.T) {
	n := New()
	if _, err := n.Load("/nonexistent/usb.ids"); !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Load() error = %v, want fs.ErrNotExist", err)
	}
	if vendors, products := n.Len(); vendors != 0 || products != 0 {
		t.Errorf("Len() = %d, %d, want empty", vendors, products)
	}
}

func BenchmarkParse(b *testing.B) {
	for b.Loop() {
		New().Parse(strings.NewReader(testDatabase))
	}
}
