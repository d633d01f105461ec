package schema

import (
	_ "embed"
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed vocabulary.yaml
var defaultVocabulary []byte

var (
	hpoPattern     = regexp.MustCompile(`^HP:\d{7}$`)
	ensemblPattern = regexp.MustCompile(`^ENSG\d{11}$`)
)

// Vocabulary holds the term tables used by Canonicalize.
type Vocabulary struct {
	Phenotypes struct {
		Synonyms map[string]string `yaml:"synonyms"`
		Labels   map[string]string `yaml:"labels"`
	} `yaml:"phenotypes"`
	Genes map[string]string `yaml:"genes"`

	geneLabels map[string]string
}

// DefaultVocabulary returns the embedded reference tables.
func DefaultVocabulary() (*Vocabulary, error) {
	return ParseVocabulary(defaultVocabulary)
}

// LoadVocabulary reads a vocabulary YAML file.
func LoadVocabulary(path string) (*Vocabulary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vocabulary: %w", err)
	}
	return ParseVocabulary(data)
}

// ParseVocabulary decodes and checks a vocabulary document.
func ParseVocabulary(data []byte) (*Vocabulary, error) {
	var v Vocabulary
	if err := yaml.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("parse vocabulary YAML: %w", err)
	}

	for alt, primary := range v.Phenotypes.Synonyms {
		if !hpoPattern.MatchString(alt) || !hpoPattern.MatchString(primary) {
			return nil, fmt.Errorf("vocabulary: bad phenotype synonym %s -> %s", alt, primary)
		}
		if _, chained := v.Phenotypes.Synonyms[primary]; chained {
			return nil, fmt.Errorf("vocabulary: synonym target %s is itself a synonym", primary)
		}
	}

	v.geneLabels = make(map[string]string, len(v.Genes))
	normalized := make(map[string]string, len(v.Genes))
	for symbol, id := range v.Genes {
		if !ensemblPattern.MatchString(id) {
			return nil, fmt.Errorf("vocabulary: gene %s has non-Ensembl id %q", symbol, id)
		}
		sym := strings.ToUpper(symbol)
		normalized[sym] = id
		v.geneLabels[id] = sym
	}
	v.Genes = normalized

	return &v, nil
}

// phenotype returns the primary id and label for an HPO id.
func (v *Vocabulary) phenotype(id string) (string, string, error) {
	if !hpoPattern.MatchString(id) {
		return "", "", fmt.Errorf("phenotype id %q is not an HPO term", id)
	}
	if primary, ok := v.Phenotypes.Synonyms[id]; ok {
		id = primary
	}
	return id, v.Phenotypes.Labels[id], nil
}

// gene resolves a symbol or Ensembl id to an Ensembl id and symbol label.
func (v *Vocabulary) gene(id string) (string, string, error) {
	if ensemblPattern.MatchString(id) {
		return id, v.geneLabels[id], nil
	}
	sym := strings.ToUpper(strings.TrimSpace(id))
	if ens, ok := v.Genes[sym]; ok {
		return ens, sym, nil
	}
	return "", "", fmt.Errorf("unresolved gene identifier %q", id)
}
