package mgoregistry

import (
	"github.com/denismitr/respimg/internal/media"
	"strconv"
	"time"
)

const (
	kindSkip = "skip"
	kindSet  = "set"
)

type recordDocument struct {
	Key        string            `bson:"key"`
	Kind       string            `bson:"kind"`
	Mime       string            `bson:"mime,omitempty"`
	Hash       string            `bson:"hash,omitempty"`
	Width      int               `bson:"width,omitempty"`
	Tag        string            `bson:"tag,omitempty"`
	SrcsetBase map[string]string `bson:"srcsetBase,omitempty"`
	SrcsetWebp map[string]string `bson:"srcsetWebp,omitempty"`
	UpdatedAt  time.Time         `bson:"updatedAt"`
}

func mapRecordToDocument(key string, rec media.Record, now time.Time) *recordDocument {
	doc := &recordDocument{Key: key, Kind: kindSkip, UpdatedAt: now}

	if set, ok := rec.(*media.DerivativeSet); ok && set != nil {
		doc.Kind = kindSet
		doc.Mime = set.Mime
		doc.Hash = set.Hash
		doc.Width = set.Width
		doc.Tag = set.Tag
		doc.SrcsetBase = toStringKeys(set.Base)
		doc.SrcsetWebp = toStringKeys(set.Webp)
	}

	return doc
}

func mapDocumentToRecord(doc *recordDocument) (media.Record, bool) {
	switch doc.Kind {
	case kindSkip:
		return media.Skip{}, true
	case kindSet:
		base, ok := toIntKeys(doc.SrcsetBase)
		if !ok {
			return nil, false
		}

		webp, ok := toIntKeys(doc.SrcsetWebp)
		if !ok {
			return nil, false
		}

		return &media.DerivativeSet{
			Mime:  doc.Mime,
			Hash:  doc.Hash,
			Width: doc.Width,
			Tag:   doc.Tag,
			Base:  base,
			Webp:  webp,
		}, true
	default:
		return nil, false
	}
}

func toStringKeys(m map[int]string) map[string]string {
	result := make(map[string]string, len(m))
	for w, url := range m {
		result[strconv.Itoa(w)] = url
	}

	return result
}

func toIntKeys(m map[string]string) (map[int]string, bool) {
	result := make(map[int]string, len(m))
	for k, url := range m {
		w, err := strconv.Atoi(k)
		if err != nil || w <= 0 {
			return nil, false
		}

		result[w] = url
	}

	return result, true
}
