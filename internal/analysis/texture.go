package analysis

// USDA texture classes.
const (
	TextureSand          = "Areia"
	TextureLoamySand     = "Areia franca"
	TextureSandyLoam     = "Franco-arenosa"
	TextureLoam          = "Franca"
	TextureSiltLoam      = "Franco-siltosa"
	TextureSilt          = "Silte"
	TextureSandyClayLoam = "Franco-argilo-arenosa"
	TextureClayLoam      = "Franco-argilosa"
	TextureSiltyClayLoam = "Franco-argilo-siltosa"
	TextureSandyClay     = "Argilo-arenosa"
	TextureSiltyClay     = "Argilo-siltosa"
	TextureClay          = "Argila"
	TextureUndetermined  = "Indeterminada"
)

// TextureClass places a sand/silt/clay composition (percent) in the USDA
// texture triangle. Fractions are normalised to sum to 100.
func TextureClass(sand, silt, clay float64) string {
	total := sand + silt + clay
	if total <= 0 {
		return TextureUndetermined
	}
	sand, silt, clay = 100*sand/total, 100*silt/total, 100*clay/total

	switch {
	case silt+1.5*clay < 15:
		return TextureSand
	case silt+2*clay < 30:
		return TextureLoamySand
	case clay >= 40 && silt >= 40:
		return TextureSiltyClay
	case clay >= 40 && sand <= 45:
		return TextureClay
	case clay >= 35 && sand > 45:
		return TextureSandyClay
	case clay >= 27 && sand <= 20:
		return TextureSiltyClayLoam
	case clay >= 27 && sand <= 45:
		return TextureClayLoam
	case clay >= 20 && silt < 28 && sand > 45:
		return TextureSandyClayLoam
	case silt >= 80 && clay < 12:
		return TextureSilt
	case silt >= 50:
		return TextureSiltLoam
	case clay >= 7 && silt >= 28 && sand <= 52:
		return TextureLoam
	default:
		return TextureSandyLoam
	}
}

// HydrologicGroup maps a texture class to an SCS hydrologic soil group.
func HydrologicGroup(texture string) string {
	switch texture {
	case TextureSand, TextureLoamySand, TextureSandyLoam:
		return "A"
	case TextureLoam, TextureSiltLoam, TextureSilt:
		return "B"
	case TextureSandyClayLoam:
		return "C"
	case TextureClayLoam, TextureSiltyClayLoam, TextureSandyClay, TextureSiltyClay, TextureClay:
		return "D"
	}
	return "-"
}
