package usbid

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"sync"
)

// DefaultPaths lists the standard locations of the usb.ids database.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// Names maps vendor and product ids to names.
type Names struct {
	mu       sync.RWMutex
	vendors  map[uint16]string
	products map[uint32]string // vid<<16 | pid
}

// New returns an empty name table.
func New() *Names {
	return &Names{
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
	}
}

func productKey(vid, pid uint16) uint32 {
	return uint32(vid)<<16 | uint32(pid)
}

// Load merges the first database found in paths and returns its path.
// The error wraps fs.ErrNotExist when none of the paths exists.
func (n *Names) Load(paths ...string) (string, error) {
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		err = n.Parse(f)
		f.Close()
		if err != nil {
			return path, fmt.Errorf("%s: %w", path, err)
		}
		return path, nil
	}
	return "", fmt.Errorf("usb.ids: %w", fs.ErrNotExist)
}

// Parse merges a database in usb.ids format. Entries already present are
// kept.
//
// Vendor lines start with four hex digits, product lines with a tab and
// four hex digits, each followed by two spaces and the name. Interface
// lines (two tabs) and the class sections after the vendor list are
// ignored.
func (n *Names) Parse(r io.Reader) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	var vid uint16
	inVendor := false
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := sc.Text()
		if line == "" || line[0] == '#' {
			continue
		}

		if strings.HasPrefix(line, "\t\t") {
			continue
		}
		if line[0] == '\t' {
			if !inVendor {
				continue
			}
			id, name, ok := parseEntry(line[1:])
			if !ok {
				continue
			}
			key := productKey(vid, id)
			if _, dup := n.products[key]; !dup {
				n.products[key] = name
			}
			continue
		}

		id, name, ok := parseEntry(line)
		inVendor = ok
		if !ok {
			continue
		}
		vid = id
		if _, dup := n.vendors[vid]; !dup {
			n.vendors[vid] = name
		}
	}
	return sc.Err()
}

// parseEntry splits "xxxx  Name".
func parseEntry(s string) (uint16, string, bool) {
	if len(s) < 6 || s[4] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(s[:4], 16, 16)
	if err != nil {
		return 0, "", false
	}
	name := strings.TrimSpace(s[5:])
	if name == "" {
		return 0, "", false
	}
	return uint16(id), name, true
}

// AddVendor sets the name of vendor vid.
func (n *Names) AddVendor(vid uint16, name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.vendors[vid] = name
}

// AddProduct sets the name of product pid of vendor vid.
func (n *Names) AddProduct(vid, pid uint16, name string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.products[productKey(vid, pid)] = name
}

// Vendor returns the name of vendor vid, or "" if unknown.
func (n *Names) Vendor(vid uint16) string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.vendors[vid]
}

// Product returns the name of product pid of vendor vid, or "" if
// unknown.
func (n *Names) Product(vid, pid uint16) string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.products[productKey(vid, pid)]
}

// Describe returns "vendor product", falling back to the hex ids for
// the parts that are unknown.
func (n *Names) Describe(vid, pid uint16) string {
	vendor, product := n.Vendor(vid), n.Product(vid, pid)
	if vendor == "" {
		vendor = fmt.Sprintf("%04x", vid)
	}
	if product == "" {
		product = fmt.Sprintf("%04x", pid)
	}
	return vendor + " " + product
}

// Len returns the number of known vendors and products.
func (n *Names) Len() (vendors, products int) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.vendors), len(n.products)
}
