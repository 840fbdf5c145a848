package search

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/search/query"
	"github.com/grindlemire/go-lucene"
	"github.com/grindlemire/go-lucene/pkg/lucene/expr"
)

// ParseQuery turns a Lucene-style query into a bleve query. Structured
// parsing is attempted first; anything it cannot express falls back to
// bleve's own query-string syntax. An empty query matches everything.
func ParseQuery(q string) query.Query {
	trimmed := strings.TrimSpace(q)
	if trimmed == "" {
		return bleve.NewMatchAllQuery()
	}
	if parsed, err := lucene.Parse(trimmed); err == nil {
		if bq, err := fromLuceneAST(parsed); err == nil {
			return bq
		}
	}
	return bleve.NewQueryStringQuery(trimmed)
}

func fromLuceneAST(e *expr.Expression) (query.Query, error) {
	switch e.Op {
	case expr.And:
		left, right, err := childQueries(e)
		if err != nil {
			return nil, err
		}
		return bleve.NewConjunctionQuery(left, right), nil

	case expr.Or:
		left, right, err := childQueries(e)
		if err != nil {
			return nil, err
		}
		return bleve.NewDisjunctionQuery(left, right), nil

	case expr.Not:
		rightExpr, ok := e.Right.(*expr.Expression)
		if !ok {
			return nil, fmt.Errorf("expected expression for NOT operand")
		}
		right, err := fromLuceneAST(rightExpr)
		if err != nil {
			return nil, err
		}
		bq := bleve.NewBooleanQuery()
		bq.AddMust(bleve.NewMatchAllQuery())
		bq.AddMustNot(right)
		return bq, nil

	case expr.Equals:
		field := extractColumn(e.Left)
		value := extractValue(e.Right)
		if field == "" || value == "" {
			return nil, fmt.Errorf("incomplete field:value expression")
		}
		mq := bleve.NewMatchQuery(value)
		mq.SetField(field)
		mq.SetOperator(query.MatchQueryOperatorAnd)
		return mq, nil

	case expr.Like:
		field := extractColumn(e.Left)
		pattern := ""
		if rightExpr, ok := e.Right.(*expr.Expression); ok && rightExpr.Op == expr.Wild {
			if p, ok := rightExpr.Left.(string); ok {
				pattern = p
			}
		}
		if field == "" || pattern == "" {
			return nil, fmt.Errorf("incomplete wildcard expression")
		}
		// The standard analyzer lowercases terms; wildcard queries are not
		// analyzed, so lowercase the pattern to match.
		wq := bleve.NewWildcardQuery(strings.ToLower(pattern))
		wq.SetField(field)
		return wq, nil

	case expr.Range:
		field := extractColumn(e.Left)
		boundary, ok := e.Right.(*expr.RangeBoundary)
		if !ok || field == "" {
			return nil, fmt.Errorf("incomplete range expression")
		}
		minF, minOK := toFloat(boundary.Min)
		maxF, maxOK := toFloat(boundary.Max)
		if minOK || maxOK {
			var minP, maxP *float64
			if minOK {
				minP = &minF
			}
			if maxOK {
				maxP = &maxF
			}
			nrq := bleve.NewNumericRangeQuery(minP, maxP)
			nrq.SetField(field)
			return nrq, nil
		}
		minS, maxS := rangeTerm(boundary.Min), rangeTerm(boundary.Max)
		trq := bleve.NewTermRangeQuery(minS, maxS)
		trq.SetField(field)
		return trq, nil

	case expr.Wild:
		if pattern, ok := e.Left.(string); ok && pattern != "" {
			return bleve.NewWildcardQuery(strings.ToLower(pattern)), nil
		}
		return nil, fmt.Errorf("incomplete wildcard expression")

	case expr.Literal:
		str, ok := e.Left.(string)
		if !ok || str == "" {
			return nil, fmt.Errorf("unsupported literal operand")
		}
		if strings.HasPrefix(str, `"`) && strings.HasSuffix(str, `"`) {
			return bleve.NewMatchPhraseQuery(strings.Trim(str, `"`)), nil
		}
		mq := bleve.NewMatchQuery(str)
		mq.SetOperator(query.MatchQueryOperatorAnd)
		return mq, nil

	case expr.Fuzzy:
		return nil, fmt.Errorf("fuzzy queries not supported")
	}

	return nil, fmt.Errorf("unsupported query expression: %v", e.Op)
}

func childQueries(e *expr.Expression) (query.Query, query.Query, error) {
	leftExpr, ok := e.Left.(*expr.Expression)
	if !ok {
		return nil, nil, fmt.Errorf("expected expression for left operand")
	}
	left, err := fromLuceneAST(leftExpr)
	if err != nil {
		return nil, nil, err
	}
	rightExpr, ok := e.Right.(*expr.Expression)
	if !ok {
		return nil, nil, fmt.Errorf("expected expression for right operand")
	}
	right, err := fromLuceneAST(rightExpr)
	if err != nil {
		return nil, nil, err
	}
	return left, right, nil
}

func extractColumn(operand interface{}) string {
	if e, ok := operand.(*expr.Expression); ok && e.Op == expr.Literal {
		if col, ok := e.Left.(expr.Column); ok {
			return string(col)
		}
	}
	return ""
}

func extractValue(operand interface{}) string {
	e, ok := operand.(*expr.Expression)
	if !ok || e.Op != expr.Literal {
		return ""
	}
	switch v := e.Left.(type) {
	case string:
		return strings.Trim(v, `"`)
	case int, int64, float64:
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case nil:
		return 0, false
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	case *expr.Expression:
		if n.Op == expr.Literal {
			return toFloat(n.Left)
		}
	}
	return 0, false
}

func rangeTerm(v interface{}) string {
	if v == nil {
		return ""
	}
	if e, ok := v.(*expr.Expression); ok && e.Op == expr.Literal {
		return rangeTerm(e.Left)
	}
	s := fmt.Sprintf("%v", v)
	if s == "*" {
		return ""
	}
	return s
}
