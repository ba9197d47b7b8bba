package manipulator

import (
	"github.com/disintegration/imaging"
	"github.com/rwcarlsen/goexif/exif"
	"image"
	"io"
)

type orientation int

// Exif Orientation Tag values
// http://sylvana.net/jpegcrop/exif_orientation.html
const (
	topLeftSide     orientation = 1
	topRightSide    orientation = 2
	bottomRightSide orientation = 3
	bottomLeftSide  orientation = 4
	leftSideTop     orientation = 5
	rightSideTop    orientation = 6
	rightSideBottom orientation = 7
	leftSideBottom  orientation = 8
)

func computeExifOrientation(r io.Reader) orientation {
	exf, err := exif.Decode(r)
	if err != nil {
		return topLeftSide
	}

	tag, err := exf.Get(exif.Orientation)
	if err != nil {
		return topLeftSide
	}

	orient, err := tag.Int(0)
	if err != nil {
		return topLeftSide
	}

	return orientation(orient)
}

func (o orientation) apply(img image.Image) image.Image {
	switch o {
	case topRightSide:
		return imaging.FlipH(img)
	case bottomRightSide:
		return imaging.Rotate180(img)
	case bottomLeftSide:
		return imaging.FlipV(img)
	case leftSideTop:
		return imaging.Transpose(img)
	case rightSideTop:
		return imaging.Rotate270(img)
	case rightSideBottom:
		return imaging.Transverse(img)
	case leftSideBottom:
		return imaging.Rotate90(img)
	default:
		return img
	}
}
