package traverse

import "github.com/roach88/unitao/internal/schema"

// Describe renders the metadata of a compiled property in PropertySpec form.
// Object properties list their fields one level deep; nested objects name
// their definition only, since definitions may be recursive.
func Describe(p schema.Property) map[string]any {
	return describe(p, true)
}

func describe(p schema.Property, expand bool) map[string]any {
	info := p.Info()
	out := map[string]any{
		"type":     string(p.Kind()),
		"required": info.Required,
	}
	if info.Description != "" {
		out["description"] = info.Description
	}
	switch v := p.(type) {
	case *schema.RefProp:
		out["type"] = string(schema.KindString)
		out["contentMediaType"] = schema.MediaTypePrefix + v.Target
		if v.Index != nil {
			out["indexTemplate"] = v.Index.String()
		}
	case *schema.ArrayProp:
		out["items"] = describe(v.Items, expand)
	case *schema.MapProp:
		out["items"] = describe(v.Items, expand)
	case *schema.ObjectProp:
		if v.Def.Name != "" {
			out["ref"] = v.Def.Name
		}
		if v.Def.Key != nil {
			out["keyTemplate"] = v.Def.Key.String()
		}
		if !expand {
			break
		}
		props := make(map[string]any, len(v.Def.Fields))
		for _, f := range v.Def.Fields {
			props[f.Info().Name] = describe(f, false)
		}
		out["properties"] = props
	}
	return out
}

// flatten keeps an object's scalar and reference fields, and reduces a
// collection of objects to its item keys.
func flatten(p schema.Property, val any) any {
	switch v := p.(type) {
	case *schema.ObjectProp:
		obj, _ := val.(map[string]any)
		out := map[string]any{}
		for _, f := range v.Def.Fields {
			fv, ok := obj[f.Info().Name]
			if !ok || !isScalar(f) {
				continue
			}
			out[f.Info().Name] = fv
		}
		return out
	case *schema.ArrayProp, *schema.MapProp:
		if isScalar(schema.Items(p)) {
			return val
		}
		keys := []string{}
		for _, el := range Elements(p, val) {
			keys = append(keys, el.Key)
		}
		return keys
	default:
		return val
	}
}

func isScalar(p schema.Property) bool {
	switch p.(type) {
	case *schema.StringProp, *schema.NumberProp, *schema.BoolProp, *schema.RefProp:
		return true
	default:
		return false
	}
}
