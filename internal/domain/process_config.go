package domain

import (
	"fmt"
	"strings"
)

// PromptTemplate selects a preset compositing instruction.
type PromptTemplate string

// Available prompt templates
const (
	PromptStandardComposite PromptTemplate = "standard_composite"
	PromptLogoOverlay       PromptTemplate = "logo_overlay"
	PromptBackgroundReplace PromptTemplate = "background_replace"
	PromptProductShowcase   PromptTemplate = "product_showcase"
	PromptCustom            PromptTemplate = "custom"
)

// PositionHint tells the compositor where to place the product.
type PositionHint string

// Available position hints
const (
	PositionAuto   PositionHint = "auto"
	PositionCenter PositionHint = "center"
	PositionLeft   PositionHint = "left"
	PositionRight  PositionHint = "right"
	PositionTop    PositionHint = "top"
	PositionBottom PositionHint = "bottom"
)

const maxCustomPromptLength = 2000

var promptTemplateContent = map[PromptTemplate]string{
	PromptStandardComposite: "Composite the product from image 2 naturally into the background scene of image 1. " +
		"Keep the product's original details and colors, and match lighting and shadows to the scene.",
	PromptLogoOverlay: "Place the logo from image 2 onto the surface shown in image 1. " +
		"Follow the surface's perspective and texture so the logo looks printed on it.",
	PromptBackgroundReplace: "Replace the background of the product in image 2 with the scene from image 1. " +
		"Keep the product's edges clean and its proportions unchanged.",
	PromptProductShowcase: "Create a product showcase photo: place the product from image 2 in the scene of image 1 " +
		"as the clear focal point, with soft studio lighting and a natural shadow.",
}

var positionDescriptions = map[PositionHint]string{
	PositionAuto:   "an appropriate position",
	PositionCenter: "the center of the image",
	PositionLeft:   "the left side of the image",
	PositionRight:  "the right side of the image",
	PositionTop:    "the top of the image",
	PositionBottom: "the bottom of the image",
}

// PromptConfig controls the instruction sent to the AI collaborator.
type PromptConfig struct {
	Template     PromptTemplate `json:"template"`
	CustomPrompt string         `json:"custom_prompt,omitempty"`
	PositionHint PositionHint   `json:"position_hint"`
}

// OutputConfig controls where results are written.
type OutputConfig struct {
	// Directory for derived output paths; empty means next to the background image.
	Directory string `json:"directory,omitempty"`
	// Suffix appended to the product file stem for derived output paths.
	Suffix string `json:"suffix,omitempty"`
}

// ProcessConfig is the per-task (or queue default) processing configuration.
type ProcessConfig struct {
	Prompt PromptConfig `json:"prompt"`
	// RemoveBackground runs background removal on the product before compositing.
	RemoveBackground bool         `json:"remove_background"`
	Output           OutputConfig `json:"output"`
}

// DefaultProcessConfig returns the configuration used when neither the task
// nor the queue specifies one.
func DefaultProcessConfig() *ProcessConfig {
	return &ProcessConfig{
		Prompt: PromptConfig{
			Template:     PromptStandardComposite,
			PositionHint: PositionAuto,
		},
		RemoveBackground: true,
		Output: OutputConfig{
			Suffix: "_composite",
		},
	}
}

// Validate checks that enum values are known and a custom template has text.
func (c *ProcessConfig) Validate() error {
	switch c.Prompt.Template {
	case "", PromptStandardComposite, PromptLogoOverlay, PromptBackgroundReplace, PromptProductShowcase:
	case PromptCustom:
		if strings.TrimSpace(c.Prompt.CustomPrompt) == "" {
			return fmt.Errorf("%w: custom template requires a prompt", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown prompt template %q", ErrInvalidConfig, c.Prompt.Template)
	}

	if len(c.Prompt.CustomPrompt) > maxCustomPromptLength {
		return fmt.Errorf("%w: custom prompt exceeds %d characters", ErrInvalidConfig, maxCustomPromptLength)
	}

	if c.Prompt.PositionHint != "" {
		if _, ok := positionDescriptions[c.Prompt.PositionHint]; !ok {
			return fmt.Errorf("%w: unknown position hint %q", ErrInvalidConfig, c.Prompt.PositionHint)
		}
	}

	return nil
}

// EffectivePrompt returns the compositing instruction including the position hint.
func (c *ProcessConfig) EffectivePrompt() string {
	base := ""
	if c.Prompt.Template == PromptCustom || (c.Prompt.Template == "" && c.Prompt.CustomPrompt != "") {
		base = strings.TrimSpace(c.Prompt.CustomPrompt)
	} else {
		tmpl := c.Prompt.Template
		if tmpl == "" {
			tmpl = PromptStandardComposite
		}
		base = promptTemplateContent[tmpl]
	}

	return fmt.Sprintf("%s Place the product at %s.", base, c.PositionDescription())
}

// PositionDescription returns a human-readable placement for the prompt.
func (c *ProcessConfig) PositionDescription() string {
	if desc, ok := positionDescriptions[c.Prompt.PositionHint]; ok {
		return desc
	}
	return positionDescriptions[PositionAuto]
}
