package units

import "github.com/roach88/hygiene/internal/flowsheet"

// Feed is a source with a single outlet. Its state is fully specified by
// fixes.
type Feed struct{}

func (Feed) Type() string { return "feed" }

func (Feed) Ports() ([]string, []string) { return nil, []string{"outlet"} }

func (Feed) Build(*flowsheet.Builder) error { return nil }

func (Feed) RequiredFixes() []Fix {
	return []Fix{
		{Variable: "outlet.flow", Value: flowsheet.DefaultFlow},
		{Variable: "outlet.temperature", Value: flowsheet.DefaultTemperature},
		{Variable: "outlet.pressure", Value: flowsheet.DefaultPressure},
	}
}

// Product is a sink with a single inlet.
type Product struct{}

func (Product) Type() string { return "product" }

func (Product) Ports() ([]string, []string) { return []string{"inlet"}, nil }

func (Product) Build(*flowsheet.Builder) error { return nil }
