package build

import "strings"

var (
	Version = "dev"
	AppName = "Loom"
	Slug    = ""
)

func init() {
	if Slug == "" {
		Slug = strings.ToLower(AppName)
	}
}
