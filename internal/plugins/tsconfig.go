package plugins

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/conneroisu/playground/internal/editor"
	"github.com/conneroisu/playground/internal/errors"
	"github.com/conneroisu/playground/internal/logging"
	"github.com/tidwall/gjson"
)

const (
	TSConfigName = "tsconfig"
	TSConfigFile = "tsconfig.json"
)

// TSConfig applies the compilerOptions of tsconfig.json to the editor's
// language service.
type TSConfig struct {
	logger logging.Logger
}

func NewTSConfig(logger logging.Logger) *TSConfig {
	return &TSConfig{logger: logger.WithComponent(TSConfigName)}
}

func (c *TSConfig) Name() string { return TSConfigName }

func (c *TSConfig) Description() string {
	return "Applies tsconfig.json compiler options to the editor"
}

func (c *TSConfig) Run(ctx context.Context, host Host) error {
	return watchWellKnown(ctx, host, c.Name(), TSConfigFile, c.logger,
		func(ctx context.Context, content []byte, initial bool) error {
			if !initial {
				host.Editor().Notify(NotificationTitle, "Updated TypeScript configuration!")
			}
			opts, err := ConvertCompilerOptions(content)
			if err != nil {
				return err
			}
			host.Editor().SetCompilerOptions(opts)
			return nil
		})
}

// enumOptions maps the lower-cased string form of each enum option onto the
// value the language service expects.
var enumOptions = map[string]map[string]int{
	"target": {
		"es3": 0, "es5": 1, "es6": 2, "es2015": 2, "es2016": 3, "es2017": 4,
		"es2018": 5, "es2019": 6, "es2020": 7, "es2021": 8, "es2022": 9,
		"es2023": 10, "es2024": 11, "esnext": 99,
	},
	"module": {
		"none": 0, "commonjs": 1, "amd": 2, "umd": 3, "system": 4, "es6": 5,
		"es2015": 5, "es2020": 6, "es2022": 7, "esnext": 99, "node16": 100,
		"node18": 101, "nodenext": 199, "preserve": 200,
	},
	"moduleResolution": {
		"classic": 1, "node": 2, "node10": 2, "node16": 3, "nodenext": 99,
		"bundler": 100,
	},
	"jsx": {
		"preserve": 1, "react": 2, "react-native": 3, "react-jsx": 4,
		"react-jsxdev": 5,
	},
	"newLine": {"crlf": 0, "lf": 1},
	"moduleDetection": {
		"legacy": 1, "auto": 2, "force": 3,
	},
}

var booleanOptions = setOf(
	"allowArbitraryExtensions", "allowImportingTsExtensions", "allowJs",
	"allowSyntheticDefaultImports", "allowUnreachableCode", "allowUnusedLabels",
	"alwaysStrict", "checkJs", "composite", "declaration", "declarationMap",
	"downlevelIteration", "emitDeclarationOnly", "emitDecoratorMetadata",
	"esModuleInterop", "exactOptionalPropertyTypes", "experimentalDecorators",
	"forceConsistentCasingInFileNames", "importHelpers", "incremental",
	"inlineSourceMap", "inlineSources", "isolatedModules", "noEmit",
	"noEmitOnError", "noErrorTruncation", "noFallthroughCasesInSwitch",
	"noImplicitAny", "noImplicitOverride", "noImplicitReturns", "noImplicitThis",
	"noPropertyAccessFromIndexSignature", "noUncheckedIndexedAccess",
	"noUnusedLocals", "noUnusedParameters", "preserveConstEnums",
	"removeComments", "resolveJsonModule", "resolvePackageJsonExports",
	"resolvePackageJsonImports", "skipLibCheck", "sourceMap", "strict",
	"strictBindCallApply", "strictFunctionTypes", "strictNullChecks",
	"strictPropertyInitialization", "stripInternal", "useDefineForClassFields",
	"useUnknownInCatchVariables", "verbatimModuleSyntax",
)

var stringOptions = setOf(
	"baseUrl", "declarationDir", "jsxFactory", "jsxFragmentFactory",
	"jsxImportSource", "mapRoot", "outDir", "outFile", "rootDir", "sourceRoot",
	"tsBuildInfoFile",
)

var stringListOptions = setOf("customConditions", "rootDirs", "typeRoots", "types")

func setOf(names ...string) map[string]struct{} {
	set := make(map[string]struct{}, len(names))
	for _, n := range names {
		set[n] = struct{}{}
	}
	return set
}

// ConvertCompilerOptions converts the compilerOptions of a tsconfig.json
// document. Every problem is reported; any problem fails the conversion.
// The result always allows non-TypeScript extensions so plain JavaScript
// models are type checked too.
func ConvertCompilerOptions(document []byte) (editor.CompilerOptions, error) {
	if !gjson.ValidBytes(document) {
		return nil, errors.NewConfigError(TSConfigFile + " is not valid JSON")
	}

	raw := gjson.GetBytes(document, "compilerOptions")
	opts := editor.CompilerOptions{}
	var problems []string

	if raw.Exists() && !raw.IsObject() {
		problems = append(problems, "compilerOptions must be an object")
	}

	raw.ForEach(func(key, value gjson.Result) bool {
		name := key.String()
		converted, err := convertOption(name, value)
		if err != nil {
			problems = append(problems, err.Error())
			return true
		}
		opts[name] = converted
		return true
	})

	if len(problems) > 0 {
		return nil, errors.NewConfigError(strings.Join(problems, "\n"))
	}
	opts["allowNonTsExtensions"] = true
	return opts, nil
}

func convertOption(name string, value gjson.Result) (any, error) {
	if values, ok := enumOptions[name]; ok {
		if value.Type != gjson.String {
			return nil, fmt.Errorf("Compiler option '%s' requires a value of type string.", name)
		}
		v, ok := values[strings.ToLower(value.String())]
		if !ok {
			return nil, fmt.Errorf("Argument for '--%s' option must be: %s.", name, enumChoices(values))
		}
		return v, nil
	}

	if _, ok := booleanOptions[name]; ok {
		if !value.IsBool() {
			return nil, fmt.Errorf("Compiler option '%s' requires a value of type boolean.", name)
		}
		return value.Bool(), nil
	}

	if _, ok := stringOptions[name]; ok {
		if value.Type != gjson.String {
			return nil, fmt.Errorf("Compiler option '%s' requires a value of type string.", name)
		}
		return value.String(), nil
	}

	if _, ok := stringListOptions[name]; ok {
		return convertStringList(name, value)
	}

	switch name {
	case "lib":
		libs, err := convertStringList(name, value)
		if err != nil {
			return nil, err
		}
		for i, lib := range libs {
			libs[i] = "lib." + strings.ToLower(lib) + ".d.ts"
		}
		return libs, nil
	case "paths":
		if !value.IsObject() {
			return nil, errors.New("Compiler option 'paths' requires a value of type object.")
		}
		paths := map[string][]string{}
		var err error
		value.ForEach(func(pattern, targets gjson.Result) bool {
			var list []string
			list, err = convertStringList("paths", targets)
			paths[pattern.String()] = list
			return err == nil
		})
		if err != nil {
			return nil, err
		}
		return paths, nil
	case "maxNodeModuleJsDepth":
		if value.Type != gjson.Number {
			return nil, fmt.Errorf("Compiler option '%s' requires a value of type number.", name)
		}
		return int(value.Int()), nil
	case "plugins":
		return value.Value(), nil
	}

	return nil, fmt.Errorf("Unknown compiler option '%s'.", name)
}

func convertStringList(name string, value gjson.Result) ([]string, error) {
	if !value.IsArray() {
		return nil, fmt.Errorf("Compiler option '%s' requires a value of type Array.", name)
	}
	var out []string
	for _, item := range value.Array() {
		if item.Type != gjson.String {
			return nil, fmt.Errorf("Compiler option '%s' requires a value of type string.", name)
		}
		out = append(out, item.String())
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func enumChoices(values map[string]int) string {
	choices := make([]string, 0, len(values))
	for k := range values {
		choices = append(choices, "'"+k+"'")
	}
	sort.Strings(choices)
	return strings.Join(choices, ", ")
}
