package generator

import "github.com/dunamismax/mockupflow/internal/domain"

const baseInstruction = "You are a photorealistic mockup expert. A design has been placed on the T-shirt in the provided image. " +
	"Your task is to seamlessly integrate this design onto the fabric. It must follow the T-shirt's wrinkles, texture, shadows, and highlights. " +
	"Do not change the T-shirt, the model, or the background itself. Only modify the design to look like a natural print."

func PromptForIntensity(intensity domain.Intensity) string {
	switch intensity {
	case domain.IntensityLow:
		return baseInstruction + " The design should wrap subtly with the T-shirt's fabric, following only the most gentle wrinkles and curves for a clean, new look."
	case domain.IntensityHigh:
		return baseInstruction + " The design must aggressively wrap and distort with the T-shirt's fabric, following every deep wrinkle, curve, and fold to create a heavily textured, worn-in appearance."
	default:
		return baseInstruction + " The design must wrap and distort naturally with the T-shirt's fabric, following every wrinkle, curve, and fold."
	}
}
