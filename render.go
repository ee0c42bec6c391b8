// Copyright 2024 by Oliver Sauer
// Use of this source code is governed by a MIT-style license that can be found in the LICENSE file.

package mediadrop

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
)

// listingTemplate escapes every interpolated value, so crafted file names cannot inject markup.
var listingTemplate = template.Must(template.New("listing").Funcs(template.FuncMap{
	"upper": strings.ToUpper,
	"bytes": func(n int64) string {
		if n < 0 {
			n = 0
		}
		return humanize.Bytes(uint64(n))
	},
	"ago": func(t time.Time) string {
		return humanize.Time(t)
	},
}).Parse(`<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8" />
  <title>Files in files/</title>
  <style>
    body { font-family: system-ui, sans-serif; padding: 32px; background: #020617; color: #e2e8f0; }
    a { color: #3b82f6; }
  </style>
</head>
<body>
  <h1>Files in files/</h1>
  <p>Drop new MP3 or MP4 files into this folder and refresh the page.</p>
  <ul>{{range .}}<li><a href="{{.URL}}">{{.Name}}</a> <small title="{{bytes .Size}}, modified {{ago .Modified}}">({{upper .Extension}} • {{.Size}} bytes)</small></li>{{else}}<li>No files found.</li>{{end}}</ul>
  <p><a href="/">&larr; Back to the hub</a></p>
</body>
</html>
`))

// renderListing writes the HTML directory page. The page is rendered to a buffer first so a
// template failure still produces a clean 500.
func renderListing(w http.ResponseWriter, entries []MediaEntry) error {
	var buf bytes.Buffer
	if err := listingTemplate.Execute(&buf, entries); err != nil {
		return fmt.Errorf("rendering listing: %w", err)
	}
	w.Header().Set("Content-Type", contentTypeHTML)
	w.WriteHeader(http.StatusOK)
	_, err := buf.WriteTo(w)
	return ignoreClientGone(err)
}
