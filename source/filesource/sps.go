package filesource

import (
	"bytes"

	"github.com/pkg/errors"
	bitsutil "github.com/streammux/mp4mux/utils/bits"
)

// parseSPSDimensions extracts pic width/height from a raw SPS (NAL
// header byte included) using exponential-Golomb decoding, for sources
// that don't otherwise know their frame size. Handles the Baseline/Main
// profile subset (no chroma_format_idc extension, pic_order_cnt_type 0
// or 2); anything else returns an error so the caller can fall back to
// an explicit width/height.
func parseSPSDimensions(sps []byte) (width, height int, err error) {
	if len(sps) < 4 {
		return 0, 0, errors.New("filesource: SPS too short")
	}
	r := &bitsutil.GolombBitReader{R: bytes.NewReader(sps[1:])}

	profileIdc, err := r.ReadBits(8)
	if err != nil {
		return 0, 0, err
	}
	switch profileIdc {
	case 100, 110, 122, 244, 44, 83, 86, 118, 128, 138, 139, 134, 135:
		return 0, 0, errors.New("filesource: SPS profile with chroma_format_idc extension unsupported")
	}
	if _, err = r.ReadBits(8); err != nil { // constraint flags + reserved
		return 0, 0, err
	}
	if _, err = r.ReadBits(8); err != nil { // level_idc
		return 0, 0, err
	}
	if _, err = r.ReadExponentialGolombCode(); err != nil { // seq_parameter_set_id
		return 0, 0, err
	}

	if _, err = r.ReadExponentialGolombCode(); err != nil { // log2_max_frame_num_minus4
		return 0, 0, err
	}
	pocType, err := r.ReadExponentialGolombCode()
	if err != nil {
		return 0, 0, err
	}
	switch pocType {
	case 0:
		if _, err = r.ReadExponentialGolombCode(); err != nil { // log2_max_pic_order_cnt_lsb_minus4
			return 0, 0, err
		}
	case 1:
		return 0, 0, errors.New("filesource: pic_order_cnt_type 1 SPS unsupported")
	case 2:
		// no extra fields
	default:
		return 0, 0, errors.New("filesource: invalid pic_order_cnt_type")
	}

	if _, err = r.ReadExponentialGolombCode(); err != nil { // max_num_ref_frames
		return 0, 0, err
	}
	if _, err = r.ReadBit(); err != nil { // gaps_in_frame_num_value_allowed_flag
		return 0, 0, err
	}

	widthMbsMinus1, err := r.ReadExponentialGolombCode()
	if err != nil {
		return 0, 0, err
	}
	heightMapUnitsMinus1, err := r.ReadExponentialGolombCode()
	if err != nil {
		return 0, 0, err
	}
	frameMbsOnly, err := r.ReadBit()
	if err != nil {
		return 0, 0, err
	}
	if frameMbsOnly == 0 {
		if _, err = r.ReadBit(); err != nil { // mb_adaptive_frame_field_flag
			return 0, 0, err
		}
	}
	if _, err = r.ReadBit(); err != nil { // direct_8x8_inference_flag
		return 0, 0, err
	}

	var cropLeft, cropRight, cropTop, cropBottom uint
	cropFlag, err := r.ReadBit()
	if err != nil {
		return 0, 0, err
	}
	if cropFlag != 0 {
		if cropLeft, err = r.ReadExponentialGolombCode(); err != nil {
			return 0, 0, err
		}
		if cropRight, err = r.ReadExponentialGolombCode(); err != nil {
			return 0, 0, err
		}
		if cropTop, err = r.ReadExponentialGolombCode(); err != nil {
			return 0, 0, err
		}
		if cropBottom, err = r.ReadExponentialGolombCode(); err != nil {
			return 0, 0, err
		}
	}

	frameMbsOnlyMul := uint(2)
	if frameMbsOnly != 0 {
		frameMbsOnlyMul = 1
	}
	width = int((widthMbsMinus1+1)*16 - (cropLeft+cropRight)*2)
	height = int((frameMbsOnlyMul*(heightMapUnitsMinus1+1))*16 - (cropTop+cropBottom)*2*frameMbsOnlyMul)
	return width, height, nil
}
