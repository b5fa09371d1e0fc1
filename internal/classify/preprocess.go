package classify

import (
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// SaturationBoost is the multiplicative factor applied to S after blurring.
const SaturationBoost = 1.2

// toMat converts img into an 8-bit BGR Mat, the channel order OpenCV expects.
func toMat(img image.Image) (gocv.Mat, error) {
	mat, err := gocv.ImageToMatRGB(compact(img))
	if err != nil {
		return gocv.NewMat(), fmt.Errorf("convert to mat: %w", err)
	}
	return mat, nil
}

func fromMat(mat gocv.Mat) (*image.RGBA, error) {
	img, err := mat.ToImage()
	if err != nil {
		return nil, fmt.Errorf("convert from mat: %w", err)
	}
	return compact(img), nil
}

// blurMat is a 3x3 Gaussian with OpenCV's default border (reflect 101).
func blurMat(src gocv.Mat) gocv.Mat {
	dst := gocv.NewMat()
	gocv.GaussianBlur(src, &dst, image.Pt(3, 3), 0, 0, gocv.BorderDefault)
	return dst
}

// enhanceMat blurs a BGR Mat and boosts its saturation, returning a new BGR Mat.
func enhanceMat(src gocv.Mat) gocv.Mat {
	blurred := blurMat(src)
	defer blurred.Close()

	hsv := gocv.NewMat()
	defer hsv.Close()
	gocv.CvtColor(blurred, &hsv, gocv.ColorBGRToHSV)

	channels := gocv.Split(hsv)
	defer func() {
		for _, ch := range channels {
			ch.Close()
		}
	}()
	// Saturates at 255 like cv2.multiply.
	channels[1].MultiplyFloat(SaturationBoost)
	gocv.Merge(channels, &hsv)

	out := gocv.NewMat()
	gocv.CvtColor(hsv, &out, gocv.ColorHSVToBGR)
	return out
}

// Blur returns a blurred copy of img.
func Blur(img image.Image) (*image.RGBA, error) {
	src, err := toMat(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	dst := blurMat(src)
	defer dst.Close()
	return fromMat(dst)
}

// Preprocess returns a blurred, saturation-boosted copy of img.
func Preprocess(img image.Image) (*image.RGBA, error) {
	src, err := toMat(img)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	dst := enhanceMat(src)
	defer dst.Close()
	return fromMat(dst)
}
