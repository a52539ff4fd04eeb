package paths

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"

	"go-arcenciel-browser/internal/helpers"
	"go-arcenciel-browser/internal/models"
)

// Tags that may appear in a subfolder pattern such as "{baseModel}/{modelName}".
var allowedTags = map[string]struct{}{
	"modelId":     {},
	"modelName":   {},
	"modelType":   {},
	"username":    {},
	"versionId":   {},
	"versionName": {},
	"baseModel":   {},
}

var tagRegex = regexp.MustCompile(`\{([^}]+)\}`)

// GeneratePath substitutes {tag} placeholders in pattern with slugged values
// from data and returns a relative path.
func GeneratePath(pattern string, data map[string]string) (string, error) {
	generated := pattern

	for _, match := range tagRegex.FindAllStringSubmatch(pattern, -1) {
		tagName, tagWithBraces := match[1], match[0]
		if _, ok := allowedTags[tagName]; !ok {
			return "", fmt.Errorf("unknown tag found in path pattern: %s", tagWithBraces)
		}

		value := helpers.ConvertToSlug(data[tagName])
		if value == "" {
			value = "empty_" + tagName
		}
		generated = strings.ReplaceAll(generated, tagWithBraces, value)
	}

	cleaned := filepath.Clean(generated)
	if cleaned == "." || cleaned == "" {
		return "", fmt.Errorf("path pattern %q produced an empty path", pattern)
	}
	cleaned = strings.TrimPrefix(cleaned, string(filepath.Separator))

	if strings.Contains(cleaned, "..") {
		return "", fmt.Errorf("generated path contains invalid sequence '..': %s", cleaned)
	}
	return cleaned, nil
}

// PatternData collects the tag values GeneratePath understands for one
// model version.
func PatternData(m models.Model, v models.ModelVersion) map[string]string {
	modelType := v.ModelType
	if modelType == "" {
		modelType = m.Type
	}
	return map[string]string{
		"modelId":     m.ID.String(),
		"modelName":   m.Title,
		"modelType":   modelType,
		"username":    m.Uploader.Username,
		"versionId":   v.ID.String(),
		"versionName": v.VersionName,
		"baseModel":   v.BaseModel,
	}
}

// ResolveDestination picks the preset folder for modelType (falling back to
// OTHER, then the working directory), appends an optional subfolder and the
// sanitized file name, and returns an absolute path.
func ResolveDestination(presets map[string]string, modelType, subfolder, fileName string) (string, error) {
	dir := presets[strings.ToUpper(strings.TrimSpace(modelType))]
	if dir == "" {
		dir = presets["OTHER"]
	}
	if dir == "" {
		dir = "."
	}

	if sub := strings.TrimSpace(subfolder); sub != "" {
		safe := helpers.SanitizePath(sub)
		if safe != "." {
			dir = filepath.Join(dir, safe)
		}
	}

	dest := filepath.Join(dir, helpers.SanitizeFileName(fileName))
	abs, err := filepath.Abs(dest)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", dest, err)
	}
	return abs, nil
}
