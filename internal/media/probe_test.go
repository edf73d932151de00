package media

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProbeOutput(t *testing.T) {
	tests := []struct {
		name      string
		json      string
		want      VideoInfo
		wantErrIs error
	}{
		{
			name: "nb_frames present with audio",
			json: `{"streams":[
				{"codec_type":"video","width":1920,"height":1080,"r_frame_rate":"30000/1001","nb_frames":"300","duration":"10.01"},
				{"codec_type":"audio"}
			],"format":{"duration":"10.05"}}`,
			want: VideoInfo{
				Width: 1920, Height: 1080, FrameRate: "30000/1001", FPS: 30000.0 / 1001.0,
				FrameCount: 300, FrameCountExact: true, Duration: 10.01, HasAudio: true,
			},
		},
		{
			name: "estimate from format duration",
			json: `{"streams":[
				{"codec_type":"video","width":640,"height":480,"r_frame_rate":"25/1"}
			],"format":{"duration":"4.0"}}`,
			want: VideoInfo{Width: 640, Height: 480, FrameRate: "25/1", FPS: 25, FrameCount: 100, Duration: 4},
		},
		{
			name: "unknown frame count",
			json: `{"streams":[
				{"codec_type":"video","width":640,"height":480,"r_frame_rate":"24/1","nb_frames":"N/A"}
			],"format":{}}`,
			want: VideoInfo{Width: 640, Height: 480, FrameRate: "24/1", FPS: 24},
		},
		{
			name: "falls back to avg_frame_rate",
			json: `{"streams":[
				{"codec_type":"video","width":320,"height":240,"r_frame_rate":"0/0","avg_frame_rate":"15/1","nb_frames":"30"}
			]}`,
			want: VideoInfo{Width: 320, Height: 240, FrameRate: "15/1", FPS: 15, FrameCount: 30, FrameCountExact: true},
		},
		{
			name: "display matrix rotation swaps dimensions",
			json: `{"streams":[
				{"codec_type":"video","width":1920,"height":1080,"r_frame_rate":"30/1","nb_frames":"60",
				 "side_data_list":[{"side_data_type":"Display Matrix","displaymatrix":"...","rotation":-90}]}
			]}`,
			want: VideoInfo{Width: 1080, Height: 1920, Rotation: 270, FrameRate: "30/1", FPS: 30, FrameCount: 60, FrameCountExact: true},
		},
		{
			name: "legacy rotate tag",
			json: `{"streams":[
				{"codec_type":"video","width":1280,"height":720,"r_frame_rate":"25/1","nb_frames":"25","tags":{"rotate":"90"}}
			]}`,
			want: VideoInfo{Width: 720, Height: 1280, Rotation: 90, FrameRate: "25/1", FPS: 25, FrameCount: 25, FrameCountExact: true},
		},
		{
			name: "upside down keeps dimensions",
			json: `{"streams":[
				{"codec_type":"video","width":1280,"height":720,"r_frame_rate":"25/1","nb_frames":"25",
				 "side_data_list":[{"side_data_type":"Display Matrix","rotation":180}]}
			]}`,
			want: VideoInfo{Width: 1280, Height: 720, Rotation: 180, FrameRate: "25/1", FPS: 25, FrameCount: 25, FrameCountExact: true},
		},
		{
			name:      "no video stream",
			json:      `{"streams":[{"codec_type":"audio"}]}`,
			wantErrIs: ErrNoVideoStream,
		},
		{
			name:      "zero dimensions",
			json:      `{"streams":[{"codec_type":"video","width":0,"height":0,"r_frame_rate":"25/1"}]}`,
			wantErrIs: ErrInvalidDimensions,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseProbeOutput([]byte(tt.json))
			if tt.wantErrIs != nil {
				assert.ErrorIs(t, err, tt.wantErrIs)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Width, got.Width)
			assert.Equal(t, tt.want.Height, got.Height)
			assert.Equal(t, tt.want.Rotation, got.Rotation)
			assert.Equal(t, tt.want.FrameRate, got.FrameRate)
			assert.InDelta(t, tt.want.FPS, got.FPS, 1e-9)
			assert.Equal(t, tt.want.FrameCount, got.FrameCount)
			assert.Equal(t, tt.want.FrameCountExact, got.FrameCountExact)
			assert.InDelta(t, tt.want.Duration, got.Duration, 1e-9)
			assert.Equal(t, tt.want.HasAudio, got.HasAudio)
		})
	}
}

func TestParseProbeOutput_InvalidJSON(t *testing.T) {
	_, err := parseProbeOutput([]byte("not json"))
	assert.Error(t, err)
}

func TestParseRational(t *testing.T) {
	tests := []struct {
		in   string
		want float64
	}{
		{"30/1", 30},
		{"30000/1001", 29.97002997002997},
		{"25", 25},
		{"0/0", 0},
		{"abc", 0},
		{"", 0},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.InDelta(t, tt.want, parseRational(tt.in), 1e-9)
		})
	}
}
