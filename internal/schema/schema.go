// Package schema is the bundled Matchmaker Exchange schema capability:
// syntax validation of match requests and responses and canonicalization of
// phenotype terms and gene identifiers.
package schema

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/tjfontaine/mme-broker/internal/core/domain"
)

// LinkageKey is the top-level member that carries exchange back-references.
const LinkageKey = "_linkage"

// ErrMalformed is returned for payloads that are not JSON.
var ErrMalformed = errors.New("payload is not valid JSON")

// Violation describes the first schema rule a payload breaks.
type Violation struct {
	Path   string
	Reason string
}

func (v *Violation) Error() string {
	if v.Path == "" {
		return v.Reason
	}
	return v.Path + ": " + v.Reason
}

func violation(path, format string, args ...interface{}) error {
	return &Violation{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Schema implements ports.Schema over a vocabulary.
type Schema struct {
	vocab *Vocabulary
}

// New returns a Schema backed by vocab.
func New(vocab *Vocabulary) *Schema {
	return &Schema{vocab: vocab}
}

// Default returns a Schema using the embedded vocabulary.
func Default() (*Schema, error) {
	v, err := DefaultVocabulary()
	if err != nil {
		return nil, err
	}
	return New(v), nil
}

// ValidateSyntax checks the structure of a request or response document.
func (s *Schema) ValidateSyntax(payload json.RawMessage, kind domain.Kind) error {
	if !gjson.ValidBytes(payload) {
		return ErrMalformed
	}
	root := gjson.ParseBytes(payload)
	if !root.IsObject() {
		return violation("", "document must be a JSON object")
	}

	switch kind {
	case domain.KindRequest:
		if err := validatePatient(root.Get("patient"), "patient", true); err != nil {
			return err
		}
	case domain.KindResponse:
		results := root.Get("results")
		if !results.IsArray() {
			return violation("results", "must be an array")
		}
		for i, r := range results.Array() {
			path := fmt.Sprintf("results.%d", i)
			if !r.IsObject() {
				return violation(path, "must be an object")
			}
			if err := validatePatient(r.Get("patient"), path+".patient", false); err != nil {
				return err
			}
			if r.Get("score.patient").Type != gjson.Number {
				return violation(path+".score.patient", "must be a number")
			}
		}
	default:
		return fmt.Errorf("unknown payload kind %q", kind)
	}

	return validateLinkage(root.Get(LinkageKey), kind)
}

// validatePatient checks a patient object. Queries must carry contact
// details and at least one phenotypic or genomic feature.
func validatePatient(p gjson.Result, path string, query bool) error {
	if !p.IsObject() {
		return violation(path, "must be an object")
	}
	if err := requireString(p, path, "id"); err != nil {
		return err
	}

	if query {
		contact := p.Get("contact")
		if !contact.IsObject() {
			return violation(path+".contact", "must be an object")
		}
		if err := requireString(contact, path+".contact", "name"); err != nil {
			return err
		}
		if err := requireString(contact, path+".contact", "href"); err != nil {
			return err
		}
	}

	features := p.Get("features")
	genomic := p.Get("genomicFeatures")
	if features.Exists() && !features.IsArray() {
		return violation(path+".features", "must be an array")
	}
	if genomic.Exists() && !genomic.IsArray() {
		return violation(path+".genomicFeatures", "must be an array")
	}
	if query && len(features.Array()) == 0 && len(genomic.Array()) == 0 {
		return violation(path, "at least one of features or genomicFeatures is required")
	}

	for i, f := range features.Array() {
		fp := fmt.Sprintf("%s.features.%d", path, i)
		if !f.IsObject() {
			return violation(fp, "must be an object")
		}
		if err := requireString(f, fp, "id"); err != nil {
			return err
		}
	}
	for i, g := range genomic.Array() {
		gp := fmt.Sprintf("%s.genomicFeatures.%d", path, i)
		if !g.IsObject() || !g.Get("gene").IsObject() {
			return violation(gp+".gene", "must be an object")
		}
		if err := requireString(g.Get("gene"), gp+".gene", "id"); err != nil {
			return err
		}
	}
	return nil
}

func validateLinkage(l gjson.Result, kind domain.Kind) error {
	if !l.Exists() {
		return nil
	}
	if !l.IsObject() {
		return violation(LinkageKey, "must be an object")
	}

	var err error
	l.ForEach(func(key, value gjson.Result) bool {
		if isEmpty(value) {
			err = violation(LinkageKey+"."+key.String(), "must not be empty")
			return false
		}
		return true
	})
	if err != nil {
		return err
	}

	switch kind {
	case domain.KindRequest:
		return requireString(l, LinkageKey, "sender")
	case domain.KindResponse:
		if err := requireString(l, LinkageKey, "peer"); err != nil {
			return err
		}
		if !l.Get("request").IsObject() {
			return violation(LinkageKey+".request", "must be an object")
		}
	}
	return nil
}

func requireString(obj gjson.Result, path, field string) error {
	v := obj.Get(field)
	if v.Type != gjson.String || v.Str == "" {
		return violation(path+"."+field, "must be a non-empty string")
	}
	return nil
}

func isEmpty(v gjson.Result) bool {
	switch {
	case v.Type == gjson.Null:
		return true
	case v.Type == gjson.String:
		return v.Str == ""
	case v.IsObject(), v.IsArray():
		empty := true
		v.ForEach(func(_, _ gjson.Result) bool {
			empty = false
			return false
		})
		return empty
	}
	return false
}

// Canonicalize rewrites phenotype ids to their primary HPO term and gene
// symbols to Ensembl ids. The input is never modified.
func (s *Schema) Canonicalize(payload json.RawMessage, kind domain.Kind) (json.RawMessage, error) {
	if !gjson.ValidBytes(payload) {
		return nil, ErrMalformed
	}
	doc := append([]byte(nil), payload...)

	var err error
	switch kind {
	case domain.KindRequest:
		doc, err = s.canonicalizePatient(doc, "patient")
	case domain.KindResponse:
		n := len(gjson.GetBytes(doc, "results").Array())
		for i := 0; i < n && err == nil; i++ {
			doc, err = s.canonicalizePatient(doc, fmt.Sprintf("results.%d.patient", i))
		}
	default:
		err = fmt.Errorf("unknown payload kind %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return doc, nil
}

func (s *Schema) canonicalizePatient(doc []byte, path string) ([]byte, error) {
	var err error

	for i, f := range gjson.GetBytes(doc, path+".features").Array() {
		fp := fmt.Sprintf("%s.features.%d", path, i)
		id := f.Get("id").String()
		primary, label, perr := s.vocab.phenotype(id)
		if perr != nil {
			return nil, fmt.Errorf("%s: %w", fp, perr)
		}
		if primary != id {
			if doc, err = sjson.SetBytes(doc, fp+".id", primary); err != nil {
				return nil, err
			}
		}
		if label != "" {
			if doc, err = sjson.SetBytes(doc, fp+".label", label); err != nil {
				return nil, err
			}
		}
	}

	for i, g := range gjson.GetBytes(doc, path+".genomicFeatures").Array() {
		gp := fmt.Sprintf("%s.genomicFeatures.%d.gene", path, i)
		id := g.Get("gene.id").String()
		ensembl, symbol, gerr := s.vocab.gene(id)
		if gerr != nil {
			return nil, fmt.Errorf("%s: %w", gp, gerr)
		}
		if ensembl != id {
			if doc, err = sjson.SetBytes(doc, gp+".id", ensembl); err != nil {
				return nil, err
			}
		}
		if symbol != "" && g.Get("gene.label").String() == "" {
			if doc, err = sjson.SetBytes(doc, gp+".label", symbol); err != nil {
				return nil, err
			}
		}
	}

	return doc, nil
}
