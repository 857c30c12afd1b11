package accelerated

import (
	"fmt"
	"io"
	"strings"

	"github.com/samber/lo"
)

// Attribute is one name/value line of a device description.
type Attribute struct {
	Name  string
	Value string
}

// Attributes lists the known properties of d in display order.
func (d DeviceInfo) Attributes() []Attribute {
	all := []Attribute{
		{"Name", d.Name},
		{"Vendor", d.Vendor},
		{"Type", d.Type},
		{"DriverVersion", d.Driver},
		{"AddressBits", uintOrEmpty(uint64(d.AddressBits))},
		{"MemorySize", uintOrEmpty(d.MemorySize)},
		{"MaxThreadsPerGroup", uintOrEmpty(d.MaxThreadsPerGroup)},
		{"MaxSharedMemoryPerGroup", uintOrEmpty(d.MaxSharedMemory)},
		{"MaxGridSize", strings.Join(lo.Map(d.MaxGridSize, func(v uint64, _ int) string {
			return fmt.Sprint(v)
		}), "x")},
		{"MaxConstantMemory", uintOrEmpty(d.MaxConstantMemory)},
		{"WarpSize", uintOrEmpty(uint64(d.WarpSize))},
		{"NumMultiprocessors", uintOrEmpty(uint64(d.NumMultiprocessors))},
		{"Features", strings.Join(d.Features, ",")},
	}

	return lo.Filter(all, func(a Attribute, _ int) bool {
		return a.Value != ""
	})
}

func uintOrEmpty(v uint64) string {
	if v == 0 {
		return ""
	}

	return fmt.Sprint(v)
}

// Describe writes a listing of devices in the form used by the selection
// prompt.
func Describe(w io.Writer, devices []DeviceInfo) error {
	for _, d := range devices {
		if _, err := fmt.Fprintf(w, "Accelerator: [%d]: %s, %s\n", d.Index, d.Kind, d.Name); err != nil {
			return err
		}

		for _, a := range d.Attributes() {
			if _, err := fmt.Fprintf(w, "  %s: %s\n", a.Name, a.Value); err != nil {
				return err
			}
		}

		if _, err := fmt.Fprintln(w); err != nil {
			return err
		}
	}

	return nil
}
