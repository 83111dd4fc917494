package features

import (
	"fmt"

	"gocv.io/x/gocv"
)

// fromMats copies gocv keypoints and a CV_32F descriptor matrix into Go
// slices, so matching never crosses cgo per element.
func fromMats(kps []gocv.KeyPoint, desc gocv.Mat) ([]Keypoint, [][]float32, error) {
	if len(kps) == 0 || desc.Empty() {
		return nil, nil, nil
	}
	if desc.Rows() != len(kps) {
		return nil, nil, fmt.Errorf("%d keypoints but %d descriptor rows", len(kps), desc.Rows())
	}
	if desc.Type() != gocv.MatTypeCV32F {
		return nil, nil, fmt.Errorf("unexpected descriptor type %v", desc.Type())
	}

	data, err := desc.DataPtrFloat32()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read descriptor data: %w", err)
	}
	cols := desc.Cols()
	if len(data) < cols*len(kps) {
		return nil, nil, fmt.Errorf("descriptor buffer holds %d values, need %d", len(data), cols*len(kps))
	}

	keypoints := make([]Keypoint, len(kps))
	descriptors := make([][]float32, len(kps))
	for i, kp := range kps {
		keypoints[i] = Keypoint{X: kp.X, Y: kp.Y, Scale: kp.Size, Orientation: kp.Angle}
		row := make([]float32, cols)
		copy(row, data[i*cols:(i+1)*cols])
		descriptors[i] = row
	}
	return keypoints, descriptors, nil
}
