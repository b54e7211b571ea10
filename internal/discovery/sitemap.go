package discovery

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/xml"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// maxSitemapDepth bounds sitemap-index recursion. Depth 1 is the file
// fetched directly; real sites rarely nest past an index of indexes.
const maxSitemapDepth = 3

// sitemapDoc matches both <urlset> and <sitemapindex> roots. Whichever
// the file is, the other slice stays empty.
type sitemapDoc struct {
	XMLName  xml.Name
	URLs     []sitemapLoc `xml:"url"`
	Sitemaps []sitemapLoc `xml:"sitemap"`
}

type sitemapLoc struct {
	Loc string `xml:"loc"`
}

// harvestSitemaps fetches each referenced sitemap and returns the page
// URLs in document order. Index files recurse up to maxSitemapDepth.
// The caller-owned seen set survives across calls so robots-advertised
// refs skip files the conventional pass already walked. found reports
// whether at least one sitemap parsed; firstErr carries the first fetch
// or parse error for the discovery status.
func harvestSitemaps(ctx context.Context, f *fetcher, refs []string, seen map[string]bool, pageCap int) (urls []string, found bool, firstErr error) {
	log := zap.L().With(zap.String("component", "discovery"))

	var walk func(ref string, depth int)
	walk = func(ref string, depth int) {
		if depth > maxSitemapDepth || len(urls) >= pageCap || ctx.Err() != nil {
			return
		}
		ref = strings.TrimSpace(ref)
		if ref == "" || seen[ref] {
			return
		}
		seen[ref] = true

		body, err := f.get(ctx, ref)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			log.Debug("sitemap fetch failed",
				zap.String("url", ref),
				zap.Error(err),
			)
			return
		}

		doc, err := parseSitemap(body)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			log.Debug("sitemap parse failed",
				zap.String("url", ref),
				zap.Error(err),
			)
			return
		}
		found = true

		for _, child := range doc.Sitemaps {
			walk(child.Loc, depth+1)
		}
		for _, page := range doc.URLs {
			if len(urls) >= pageCap {
				return
			}
			if loc := strings.TrimSpace(page.Loc); loc != "" {
				urls = append(urls, loc)
			}
		}
	}

	for _, ref := range refs {
		walk(ref, 1)
	}
	return urls, found, firstErr
}

// parseSitemap decodes a sitemap file, transparently decompressing
// gzipped payloads (sitemap.xml.gz is common).
func parseSitemap(body []byte) (*sitemapDoc, error) {
	if len(body) > 2 && body[0] == 0x1f && body[1] == 0x8b {
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		defer zr.Close() //nolint:errcheck
		body, err = io.ReadAll(io.LimitReader(zr, maxFetchBytes))
		if err != nil {
			return nil, err
		}
	}

	var doc sitemapDoc
	if err := xml.Unmarshal(body, &doc); err != nil {
		return nil, err
	}
	// A soft-404 page served with status 200 can be well-formed XML;
	// only accept the two sitemap roots.
	if doc.XMLName.Local != "urlset" && doc.XMLName.Local != "sitemapindex" {
		return nil, eris.Errorf("discovery: unexpected sitemap root <%s>", doc.XMLName.Local)
	}
	return &doc, nil
}
