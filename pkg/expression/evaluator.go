// Copyright (C) 2015 The Gravitee team (http://gravitee.io)
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

// Package expression evaluates boolean conditions of flows and steps.
// Conditions are CEL expressions over the variables request, context,
// properties and dictionaries.
package expression

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/sirupsen/logrus"
)

const (
	varRequest      = "request"
	varContext      = "context"
	varProperties   = "properties"
	varDictionaries = "dictionaries"
)

// Variables are the values an expression is evaluated against.
type Variables struct {
	// Request exposes path, method, headers, pathParams, etc.
	Request map[string]any
	// Context holds execution attributes.
	Context map[string]any
	// Properties are the API properties.
	Properties map[string]string
	// Dictionaries are the deployed dictionaries, keyed by name.
	Dictionaries map[string]map[string]string
}

func (v *Variables) activation() map[string]any {
	activation := map[string]any{
		varRequest:      v.Request,
		varContext:      v.Context,
		varProperties:   v.Properties,
		varDictionaries: v.Dictionaries,
	}

	// unset variables evaluate as empty maps
	if v.Request == nil {
		activation[varRequest] = map[string]any{}
	}
	if v.Context == nil {
		activation[varContext] = map[string]any{}
	}
	if v.Properties == nil {
		activation[varProperties] = map[string]string{}
	}
	if v.Dictionaries == nil {
		activation[varDictionaries] = map[string]map[string]string{}
	}
	return activation
}

// Evaluator compiles and evaluates boolean expressions.
// Compiled programs are cached per expression.
type Evaluator struct {
	env      *cel.Env
	programs sync.Map

	logger *logrus.Entry
}

// Trim strips the optional "{#...}" template wrapper of an expression.
func Trim(expr string) string {
	expr = strings.TrimSpace(expr)
	if strings.HasPrefix(expr, "{#") && strings.HasSuffix(expr, "}") {
		expr = strings.TrimSpace(expr[2 : len(expr)-1])
	}
	return expr
}

// Compile compiles an expression, returning the cached program if present.
func (e *Evaluator) Compile(expr string) (cel.Program, error) {
	expr = Trim(expr)
	if prg, ok := e.programs.Load(expr); ok {
		return prg.(cel.Program), nil
	}

	ast, issues := e.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("cannot compile expression '%s': %w", expr, issues.Err())
	}

	if t := ast.OutputType(); t != cel.BoolType && t != cel.DynType {
		return nil, fmt.Errorf("expression '%s' is of type %s, expected bool", expr, t)
	}

	prg, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("cannot build program for expression '%s': %w", expr, err)
	}

	e.logger.Debugf("Compiled expression '%s'.", expr)
	actual, _ := e.programs.LoadOrStore(expr, prg)
	return actual.(cel.Program), nil
}

// EvalBool evaluates a boolean expression.
func (e *Evaluator) EvalBool(ctx context.Context, expr string, vars *Variables) (bool, error) {
	prg, err := e.Compile(expr)
	if err != nil {
		return false, err
	}

	if vars == nil {
		vars = &Variables{}
	}

	val, _, err := prg.ContextEval(ctx, vars.activation())
	if err != nil {
		return false, fmt.Errorf("cannot evaluate expression '%s': %w", Trim(expr), err)
	}

	result, ok := val.Value().(bool)
	if !ok {
		return false, fmt.Errorf("expression '%s' evaluated to %v, expected bool", Trim(expr), val.Value())
	}

	return result, nil
}

// NewEvaluator returns a new expression evaluator.
func NewEvaluator() (*Evaluator, error) {
	env, err := cel.NewEnv(
		cel.Variable(varRequest, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(varContext, cel.MapType(cel.StringType, cel.DynType)),
		cel.Variable(varProperties, cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable(varDictionaries, cel.MapType(cel.StringType, cel.MapType(cel.StringType, cel.StringType))),
	)
	if err != nil {
		return nil, fmt.Errorf("cannot create expression environment: %w", err)
	}

	return &Evaluator{
		env:    env,
		logger: logrus.WithField("component", "expression"),
	}, nil
}
