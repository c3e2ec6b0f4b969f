// Package mediaconfig computes the effective processing and metadata
// configuration for one item on one target platform by layering presets,
// template buckets, and per-item overrides.
package mediaconfig

import "maps"

// KeyCommon holds template settings shared by every platform.
const KeyCommon = "common"

// Resolver layers configuration sources into one effective mapping per
// platform. Platform names registered here double as the reserved bucket
// keys inside template metadata.
type Resolver struct {
	presets   map[string]map[string]any
	platforms map[string]struct{}
}

// NewResolver builds a resolver from per-platform preset defaults. Every
// preset key is registered as a platform bucket name; RegisterPlatform adds
// targets that ship no preset.
func NewResolver(presets map[string]map[string]any) *Resolver {
	r := &Resolver{
		presets:   make(map[string]map[string]any, len(presets)),
		platforms: make(map[string]struct{}, len(presets)),
	}
	for platform, preset := range presets {
		r.presets[platform] = deepCopyMap(preset)
		r.platforms[platform] = struct{}{}
	}
	return r
}

// RegisterPlatform marks a platform identifier as a reserved bucket key even
// when no preset exists for it.
func (r *Resolver) RegisterPlatform(platform string) {
	r.platforms[platform] = struct{}{}
}

// Resolve produces the effective configuration for one platform. Layers apply
// lowest to highest: platform preset, the template's common bucket, the
// template's platform bucket, the template's legacy flat fields, and finally
// the item override. Mapping values merge per key recursively; everything
// else is replaced wholesale.
//
// Inputs are never mutated. Every layer is deep-copied before merging so the
// same template can be resolved for several platforms within one publish
// operation without the resolutions bleeding into each other.
func (r *Resolver) Resolve(template, override map[string]any, platform string) map[string]any {
	effective := deepCopyMap(r.presets[platform])
	if effective == nil {
		effective = make(map[string]any)
	}

	if template != nil {
		if common, ok := template[KeyCommon].(map[string]any); ok {
			effective = mergeMaps(effective, common)
		}
		if bucket, ok := template[platform].(map[string]any); ok {
			effective = mergeMaps(effective, bucket)
		}
		effective = mergeMaps(effective, r.legacyFields(template))
	}
	if override != nil {
		effective = mergeMaps(effective, override)
	}
	return effective
}

// legacyFields extracts template top-level keys that predate platform
// buckets: everything except "common" and the reserved platform names.
func (r *Resolver) legacyFields(template map[string]any) map[string]any {
	legacy := make(map[string]any)
	for key, value := range template {
		if key == KeyCommon {
			continue
		}
		if _, reserved := r.platforms[key]; reserved {
			continue
		}
		legacy[key] = value
	}
	return legacy
}

// mergeMaps overlays layer onto base recursively. base must be an owned copy;
// values taken from layer are deep-copied on the way in.
func mergeMaps(base, layer map[string]any) map[string]any {
	if base == nil {
		base = make(map[string]any, len(layer))
	}
	for key, value := range layer {
		next, nextIsMap := value.(map[string]any)
		current, currentIsMap := base[key].(map[string]any)
		if nextIsMap && currentIsMap {
			base[key] = mergeMaps(current, next)
			continue
		}
		base[key] = deepCopyValue(value)
	}
	return base
}

func deepCopyMap(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for key, value := range src {
		dst[key] = deepCopyValue(value)
	}
	return dst
}

func deepCopyValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return deepCopyMap(typed)
	case []any:
		copied := make([]any, len(typed))
		for i, element := range typed {
			copied[i] = deepCopyValue(element)
		}
		return copied
	case map[string]string:
		return maps.Clone(typed)
	default:
		return value
	}
}
