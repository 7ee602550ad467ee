package decode

// ResizedDimension scales one side of a rectangle.
//
// maxPrimary is the bound for the side being computed (0 = derive it from
// the other side), maxSecondary the bound for the other side, and the
// actual values are the natural size of the image.
func ResizedDimension(maxPrimary, maxSecondary, actualPrimary, actualSecondary int, scale ScaleType) int {
	if maxPrimary == 0 && maxSecondary == 0 {
		return actualPrimary
	}

	if scale == ScaleFitExact {
		if maxPrimary == 0 {
			return actualPrimary
		}
		return maxPrimary
	}

	// Primary unconstrained: follow the secondary's scaling ratio.
	if maxPrimary == 0 {
		ratio := float64(maxSecondary) / float64(actualSecondary)
		return int(float64(actualPrimary) * ratio)
	}

	if maxSecondary == 0 {
		return maxPrimary
	}

	ratio := float64(actualSecondary) / float64(actualPrimary)
	resized := maxPrimary

	if scale == ScaleFillCrop {
		if float64(resized)*ratio < float64(maxSecondary) {
			resized = int(float64(maxSecondary) / ratio)
		}
		return resized
	}

	if float64(resized)*ratio > float64(maxSecondary) {
		resized = int(float64(maxSecondary) / ratio)
	}
	return resized
}

// DesiredSize computes the target width and height for an image of
// actualWidth x actualHeight. Results are at least 1.
func DesiredSize(maxWidth, maxHeight, actualWidth, actualHeight int, scale ScaleType) (int, int) {
	w := ResizedDimension(maxWidth, maxHeight, actualWidth, actualHeight, scale)
	h := ResizedDimension(maxHeight, maxWidth, actualHeight, actualWidth, scale)
	return max(w, 1), max(h, 1)
}

// FindBestSampleSize returns the largest power of two that does not
// downscale past the desired dimensions on either axis.
func FindBestSampleSize(actualWidth, actualHeight, desiredWidth, desiredHeight int) int {
	if desiredWidth <= 0 || desiredHeight <= 0 {
		return 1
	}
	wr := float64(actualWidth) / float64(desiredWidth)
	hr := float64(actualHeight) / float64(desiredHeight)
	ratio := min(wr, hr)

	n := 1
	for float64(n*2) <= ratio {
		n *= 2
	}
	return n
}
