// Package gqlrequest decodes and inspects GraphQL HTTP requests before they
// reach the executor. The analysis is shared by the transaction, metrics and
// logging middleware through the request context.
package gqlrequest

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/graphql-go/graphql/language/ast"
	"github.com/graphql-go/graphql/language/parser"
	"github.com/graphql-go/graphql/language/source"
)

const anonymousOperationName = "<anonymous>"

// Analysis stores parsed and derived GraphQL request metadata.
type Analysis struct {
	Envelope Envelope

	Document  *ast.Document
	Fragments map[string]*ast.FragmentDefinition
	Operation *ast.OperationDefinition

	OperationName string
	OperationType string
	OperationHash string

	// RootFields are the top-level fields of the selected operation in
	// document order, e.g. createCategories.
	RootFields []string
	// BatchSizes maps mutation root fields to the length of their input
	// list, when it can be determined from literals or variables.
	BatchSizes map[string]int

	FieldCount     int
	SelectionDepth int

	DecodeError    error
	ParseError     error
	SelectionError error
}

// IsMutation reports whether the selected operation is a mutation.
func (a *Analysis) IsMutation() bool {
	return a != nil && a.OperationType == string(ast.OperationTypeMutation)
}

// Err returns the first analysis failure.
func (a *Analysis) Err() error {
	if a == nil {
		return nil
	}
	for _, err := range []error{a.DecodeError, a.ParseError, a.SelectionError} {
		if err != nil {
			return err
		}
	}
	return nil
}

// AnalyzeRequest decodes and analyzes a GraphQL request payload.
func AnalyzeRequest(r *http.Request) *Analysis {
	envelope, err := DecodeEnvelope(r)
	analysis := AnalyzeEnvelope(envelope)
	if err != nil {
		analysis.DecodeError = err
	}
	return analysis
}

// AnalyzeEnvelope parses and analyzes a normalized request envelope.
func AnalyzeEnvelope(env Envelope) *Analysis {
	analysis := &Analysis{
		Envelope:   env,
		Fragments:  map[string]*ast.FragmentDefinition{},
		BatchSizes: map[string]int{},
	}
	if strings.TrimSpace(env.Query) == "" {
		return analysis
	}

	doc, err := parser.Parse(parser.ParseParams{
		Source: source.NewSource(&source.Source{Body: []byte(env.Query), Name: "graphql"}),
	})
	if err != nil {
		analysis.ParseError = err
		return analysis
	}
	analysis.Document = doc
	for _, def := range doc.Definitions {
		if fragment, ok := def.(*ast.FragmentDefinition); ok && fragment.Name != nil && fragment.Name.Value != "" {
			analysis.Fragments[fragment.Name.Value] = fragment
		}
	}

	op, err := selectOperation(doc, env.OperationName)
	if err != nil {
		analysis.SelectionError = err
		return analysis
	}
	analysis.Operation = op
	analysis.OperationName = anonymousOperationName
	if op.Name != nil && op.Name.Value != "" {
		analysis.OperationName = op.Name.Value
	}
	analysis.OperationType = string(op.Operation)
	analysis.FieldCount, analysis.SelectionDepth = countFieldsAndDepth(op.SelectionSet, analysis.Fragments, 1, map[string]bool{})
	analysis.OperationHash = operationHash(env.Query, analysis.OperationName)

	variables := decodeVariables(env.VariablesRaw)
	if op.SelectionSet != nil {
		for _, selection := range op.SelectionSet.Selections {
			field, ok := selection.(*ast.Field)
			if !ok || field.Name == nil {
				continue
			}
			analysis.RootFields = append(analysis.RootFields, field.Name.Value)
			if !analysis.IsMutation() {
				continue
			}
			if size, ok := inputListSize(field, variables); ok {
				analysis.BatchSizes[field.Name.Value] = size
			}
		}
	}
	return analysis
}

func selectOperation(doc *ast.Document, operationName string) (*ast.OperationDefinition, error) {
	var operations []*ast.OperationDefinition
	for _, def := range doc.Definitions {
		if op, ok := def.(*ast.OperationDefinition); ok && op != nil {
			operations = append(operations, op)
		}
	}

	if operationName != "" {
		for _, op := range operations {
			if op.Name != nil && op.Name.Value == operationName {
				return op, nil
			}
		}
		return nil, fmt.Errorf("unknown operation named %q", operationName)
	}
	switch len(operations) {
	case 0:
		return nil, fmt.Errorf("request does not include an operation")
	case 1:
		return operations[0], nil
	default:
		return nil, fmt.Errorf("operationName is required when request has multiple operations")
	}
}

func countFieldsAndDepth(selectionSet *ast.SelectionSet, fragments map[string]*ast.FragmentDefinition, depth int, inFlight map[string]bool) (fields, maxDepth int) {
	if selectionSet == nil {
		return 0, depth - 1
	}
	maxDepth = depth
	merge := func(n, d int) {
		fields += n
		if d > maxDepth {
			maxDepth = d
		}
	}
	for _, selection := range selectionSet.Selections {
		switch sel := selection.(type) {
		case *ast.Field:
			fields++
			if sel.SelectionSet != nil {
				merge(countFieldsAndDepth(sel.SelectionSet, fragments, depth+1, inFlight))
			}
		case *ast.InlineFragment:
			merge(countFieldsAndDepth(sel.SelectionSet, fragments, depth, inFlight))
		case *ast.FragmentSpread:
			if sel.Name == nil || inFlight[sel.Name.Value] {
				continue
			}
			fragment, ok := fragments[sel.Name.Value]
			if !ok {
				continue
			}
			inFlight[sel.Name.Value] = true
			merge(countFieldsAndDepth(fragment.SelectionSet, fragments, depth, inFlight))
			delete(inFlight, sel.Name.Value)
		}
	}
	return fields, maxDepth
}

// inputListSize returns the number of items passed to a mutation field's
// input argument, either as a list literal or through a variable.
func inputListSize(field *ast.Field, variables map[string]interface{}) (int, bool) {
	for _, arg := range field.Arguments {
		if arg.Name == nil || arg.Name.Value != "input" {
			continue
		}
		switch value := arg.Value.(type) {
		case *ast.ListValue:
			return len(value.Values), true
		case *ast.ObjectValue:
			// A single object is coerced to a list of one.
			return 1, true
		case *ast.Variable:
			if value.Name == nil {
				return 0, false
			}
			switch v := variables[value.Name.Value].(type) {
			case []interface{}:
				return len(v), true
			case map[string]interface{}:
				return 1, true
			}
		}
	}
	return 0, false
}

func decodeVariables(raw json.RawMessage) map[string]interface{} {
	if len(raw) == 0 {
		return nil
	}
	var variables map[string]interface{}
	if err := json.Unmarshal(raw, &variables); err != nil {
		return nil
	}
	return variables
}
