// Package assets embeds the published AsyncAPI schema document served
// at GET /api.
package assets

import "embed"

//go:embed asyncapi.json
var embedded embed.FS

// AsyncAPISchema returns the embedded AsyncAPI JSON document.
func AsyncAPISchema() []byte {
	data, err := embedded.ReadFile("asyncapi.json")
	if err != nil {
		panic("assets: embedded asyncapi.json missing: " + err.Error())
	}
	return data
}
