// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package memory

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/tombee/marketplace/pkg/catalog"
)

// Field boosts mirror the multi_match boosts used by the Elasticsearch
// backend: title^3, description^2, tags^2, full text^1.
const (
	titleBoost       = 3.0
	descriptionBoost = 2.0
	tagBoost         = 2.0
	textBoost        = 1.0
)

var stopwords = map[string]struct{}{
	"a": {}, "an": {}, "and": {}, "are": {}, "as": {}, "at": {}, "be": {}, "by": {},
	"for": {}, "from": {}, "i": {}, "in": {}, "is": {}, "it": {}, "me": {}, "my": {},
	"need": {}, "of": {}, "on": {}, "or": {}, "the": {}, "to": {}, "want": {}, "with": {},
}

var folder = cases.Fold()

// Normalize folds case and strips diacritics so "Résumé" matches "resume".
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return folder.String(out)
}

// Tokenize splits normalised text into de-duplicated search terms in order
// of first appearance, dropping stopwords and single characters.
func Tokenize(s string) []string {
	fields := strings.FieldsFunc(Normalize(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]struct{}, len(fields))
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) < 2 {
			continue
		}
		if _, stop := stopwords[f]; stop {
			continue
		}
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		terms = append(terms, f)
	}
	return terms
}

// document is the pre-tokenised form of an item.
type document struct {
	title       map[string]struct{}
	description map[string]struct{}
	tags        map[string]struct{}
	text        map[string]struct{}
}

func newDocument(it catalog.Item) document {
	set := func(s string) map[string]struct{} {
		m := make(map[string]struct{})
		for _, t := range Tokenize(s) {
			m[t] = struct{}{}
		}
		return m
	}
	return document{
		title:       set(it.Title),
		description: set(it.Description),
		tags:        set(strings.Join(it.Tags, " ") + " " + it.Category),
		text:        set(it.Text()),
	}
}

// keywordScore returns the mean best-field boost over query terms,
// normalised by the title boost so the result is in [0,1].
func (d document) keywordScore(terms []string) float64 {
	if len(terms) == 0 {
		return 0
	}
	var total float64
	for _, term := range terms {
		best := 0.0
		if _, ok := d.title[term]; ok {
			best = titleBoost
		} else if _, ok := d.description[term]; ok {
			best = descriptionBoost
		} else if _, ok := d.tags[term]; ok {
			best = tagBoost
		} else if _, ok := d.text[term]; ok {
			best = textBoost
		}
		total += best
	}
	return total / (titleBoost * float64(len(terms)))
}
