package encoder

// Phred encoding offsets.
const (
	Phred33Offset = 33
	Phred64Offset = 64
)

// QualityEncoding represents the quality score encoding scheme.
type QualityEncoding uint8

// Quality encoding schemes.
const (
	EncodingPhred33 QualityEncoding = iota // Sanger/Illumina 1.8+ (offset 33)
	EncodingPhred64                        // Illumina 1.3-1.7 (offset 64)
)

// Offset returns the ASCII offset of the encoding.
func (e QualityEncoding) Offset() byte {
	if e == EncodingPhred64 {
		return Phred64Offset
	}
	return Phred33Offset
}

// DetectEncoding scans quality strings and returns the likely encoding.
// Anything below ';' is Phred+33, a minimum of '@' or above is Phred+64 and
// the ambiguous range defaults to Phred+33.
func DetectEncoding(qualities [][]byte) QualityEncoding {
	minByte := byte(255)
	for _, qual := range qualities {
		for _, b := range qual {
			if b < 59 {
				return EncodingPhred33
			}
			minByte = min(minByte, b)
		}
	}
	if minByte != 255 && minByte >= 64 {
		return EncodingPhred64
	}
	return EncodingPhred33
}

// EncodeQuality normalizes qual to 0-based scores and delta encodes it, in place.
func EncodeQuality(qual []byte, enc QualityEncoding) {
	off := enc.Offset()
	for i := len(qual) - 1; i >= 0; i-- {
		qual[i] -= off
		if i > 0 {
			qual[i] -= qual[i-1] - off
		}
	}
}

// DecodeQuality reverses EncodeQuality in place.
func DecodeQuality(qual []byte, enc QualityEncoding) {
	off := enc.Offset()
	for i := 1; i < len(qual); i++ {
		qual[i] += qual[i-1]
	}
	for i := range qual {
		qual[i] += off
	}
}
