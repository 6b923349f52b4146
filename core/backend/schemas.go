package backend

import (
	"embed"
	"io/fs"
)

//go:embed schemas
var schemas embed.FS

// schema ids of the request bodies
const (
	schemaRegister       = "https://popstats.relabs.tech/schemas/register.json"
	schemaLogin          = "https://popstats.relabs.tech/schemas/login.json"
	schemaUpdateProfile  = "https://popstats.relabs.tech/schemas/update-profile.json"
	schemaChangePassword = "https://popstats.relabs.tech/schemas/change-password.json"
)

func schemaFS() fs.FS {
	sub, err := fs.Sub(schemas, "schemas")
	if err != nil {
		panic(err)
	}
	return sub
}
