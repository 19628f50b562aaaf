package protocol

import (
	"github.com/vektah/gqlparser/v2/ast"
	"github.com/vektah/gqlparser/v2/parser"
)

// ParseDocument parses the executable document text into an AST, reusing
// the schema library's own grammar rather than hand-rolling one. This is a
// syntactic parse only: validating fields/types against the real schema is
// the externally supplied executor's job and is out of scope here.
func ParseDocument(query string) (*ast.QueryDocument, error) {
	doc, err := parser.ParseQuery(&ast.Source{Input: query})
	if err != nil {
		return nil, &InvalidPayloadError{Reason: err.Error()}
	}
	return doc, nil
}

// DetectKind inspects the document's top-level operation definitions: if
// any is of type subscription, the whole document is treated as a
// subscription; otherwise it is regular.
func DetectKind(doc *ast.QueryDocument) OperationKind {
	for _, op := range doc.Operations {
		if op.Operation == ast.Subscription {
			return KindSubscription
		}
	}
	return KindRegular
}

// RootSubscriptionFieldName walks the selection set of the sole
// subscription operation, resolving fragment spreads and inline fragments,
// and returns the first field name encountered. Ported in spirit from
// cppgraphqlgen's subscription name visitor referenced by the original
// implementation.
func RootSubscriptionFieldName(doc *ast.QueryDocument) (string, error) {
	var sub *ast.OperationDefinition
	for _, op := range doc.Operations {
		if op.Operation == ast.Subscription {
			sub = op
			break
		}
	}
	if sub == nil {
		return "", &InvalidPayloadError{Reason: "document has no subscription operation"}
	}

	name := firstFieldName(sub.SelectionSet, doc.Fragments)
	if name == "" {
		return "", &InvalidPayloadError{Reason: "subscription has no root field"}
	}
	return name, nil
}

func firstFieldName(set ast.SelectionSet, fragments ast.FragmentDefinitionList) string {
	for _, sel := range set {
		switch s := sel.(type) {
		case *ast.Field:
			return s.Name
		case *ast.InlineFragment:
			if name := firstFieldName(s.SelectionSet, fragments); name != "" {
				return name
			}
		case *ast.FragmentSpread:
			if def := fragments.ForName(s.Name); def != nil {
				if name := firstFieldName(def.SelectionSet, fragments); name != "" {
					return name
				}
			}
		}
	}
	return ""
}
