// Package tiger downloads Census TIGER/Line boundary shapefiles and decodes
// their features into go-geom geometries.
package tiger

import (
	"fmt"
	"strings"
)

// DefaultBaseURL is the Census Bureau TIGER/Line root.
const DefaultBaseURL = "https://www2.census.gov/geo/tiger"

// Product describes a national TIGER/Line boundary product.
type Product struct {
	Name     string // e.g., "STATE"
	File     string // file suffix, e.g., "state" in tl_2018_us_state.zip
	NameAttr string // attribute holding the display name
}

// Products lists the boundary layers a region can be resolved against.
var Products = []Product{
	{Name: "STATE", File: "state", NameAttr: "NAME"},
	{Name: "COUNTY", File: "county", NameAttr: "NAMELSAD"},
}

// ProductByName looks up a product by its name, ignoring case.
func ProductByName(name string) (Product, bool) {
	for _, p := range Products {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return Product{}, false
}

// DownloadURL builds the download URL for a national product:
// {base}/TIGER{year}/{NAME}/tl_{year}_us_{file}.zip.
func DownloadURL(baseURL string, product Product, year int) string {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return fmt.Sprintf("%s/TIGER%d/%s/tl_%d_us_%s.zip",
		strings.TrimRight(baseURL, "/"), year, product.Name, year, product.File)
}
