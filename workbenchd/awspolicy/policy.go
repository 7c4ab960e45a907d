// Package awspolicy models IAM-style JSON policy documents and the
// statement-level mutations used to grant and revoke study access on
// workspace roles and shared bucket/key policies.
package awspolicy

import (
	"encoding/json"
	"net/url"

	"golang.org/x/xerrors"
)

// DefaultVersion is the policy language version stamped on documents
// created by this package.
const DefaultVersion = "2012-10-17"

const (
	EffectAllow = "Allow"
	EffectDeny  = "Deny"
)

// Document is an IAM policy document. Statements are keyed by their Sid;
// mutation helpers locate-or-create statements by exact Sid and preserve
// the order of untouched statements.
type Document struct {
	Version   string      `json:"Version"`
	Statement []Statement `json:"Statement"`
}

// Statement is a single policy statement.
type Statement struct {
	Sid       string     `json:"Sid,omitempty"`
	Effect    string     `json:"Effect"`
	Principal *Principal `json:"Principal,omitempty"`
	Action    ValueList  `json:"Action,omitempty"`
	Resource  ValueList  `json:"Resource,omitempty"`
	Condition Condition  `json:"Condition,omitempty"`
}

// Principal is the principal element of a resource-based policy
// statement. Only AWS principals are used here.
type Principal struct {
	AWS ValueList `json:"AWS,omitempty"`
}

// Condition maps a condition operator to condition-key/value pairs, e.g.
// {"StringLike": {"s3:prefix": ["users/u1/*"]}}.
type Condition map[string]map[string]ValueList

// ValueList is a policy element that IAM serializes as either a single
// string or an array of strings. It unmarshals from both forms and
// always marshals as an array.
type ValueList []string

func (v *ValueList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*v = ValueList{single}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return xerrors.Errorf("unmarshal policy value list: %w", err)
	}
	*v = many
	return nil
}

func (v ValueList) MarshalJSON() ([]byte, error) {
	return json.Marshal([]string(v))
}

// NewDocument returns an empty document with the default version.
func NewDocument() Document {
	return Document{Version: DefaultVersion}
}

// Parse decodes a policy document. IAM's GetRolePolicy returns the
// document URL-encoded, so parsing un-escapes first when possible.
func Parse(raw string) (Document, error) {
	if decoded, err := url.QueryUnescape(raw); err == nil {
		raw = decoded
	}
	var doc Document
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return Document{}, xerrors.Errorf("unmarshal policy document: %w", err)
	}
	if doc.Version == "" {
		doc.Version = DefaultVersion
	}
	return doc, nil
}

// Marshal serializes the document as JSON.
func (d Document) Marshal() (string, error) {
	data, err := json.Marshal(d)
	if err != nil {
		return "", xerrors.Errorf("marshal policy document: %w", err)
	}
	return string(data), nil
}

// Empty reports whether the document has no statements left.
func (d Document) Empty() bool {
	return len(d.Statement) == 0
}

// Clone returns a deep copy of the document.
func (d Document) Clone() Document {
	out := Document{Version: d.Version}
	if d.Statement != nil {
		out.Statement = make([]Statement, len(d.Statement))
		for i, s := range d.Statement {
			out.Statement[i] = s.Clone()
		}
	}
	return out
}

// Clone returns a deep copy of the statement.
func (s Statement) Clone() Statement {
	out := s
	out.Action = append(ValueList(nil), s.Action...)
	out.Resource = append(ValueList(nil), s.Resource...)
	if s.Principal != nil {
		out.Principal = &Principal{AWS: append(ValueList(nil), s.Principal.AWS...)}
	}
	if s.Condition != nil {
		out.Condition = make(Condition, len(s.Condition))
		for op, keys := range s.Condition {
			cloned := make(map[string]ValueList, len(keys))
			for key, values := range keys {
				cloned[key] = append(ValueList(nil), values...)
			}
			out.Condition[op] = cloned
		}
	}
	return out
}
