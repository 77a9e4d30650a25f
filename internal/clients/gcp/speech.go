package gcp

import (
	"context"
	"fmt"
	"math"
	"os"
	"strings"
	"time"

	speech "cloud.google.com/go/speech/apiv1"
	speechpb "cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/durationpb"

	"github.com/insightlearn/backend/internal/logger"
	"github.com/insightlearn/backend/internal/services"
)

const engineID = "gcp_speech"

// SpeechEngine is the live ASR backend: Google Cloud Speech-to-Text long
// running recognition over a GCS-hosted audio track, with word time offsets
// grouped into transcript segments.
type SpeechEngine struct {
	log    *logger.Logger
	client *speech.Client

	maxRetries    int
	segmentWindow float64
	diarize       bool
}

func NewSpeechEngine(log *logger.Logger) (*SpeechEngine, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	slog := log.With("service", "SpeechEngine")

	creds := strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS_JSON"))
	if creds == "" {
		creds = strings.TrimSpace(os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"))
	}

	ctx := context.Background()

	var c *speech.Client
	var err error
	if creds != "" {
		c, err = speech.NewClient(ctx, option.WithCredentialsFile(creds))
	} else {
		c, err = speech.NewClient(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("speech client: %w", err)
	}

	return &SpeechEngine{
		log:           slog,
		client:        c,
		maxRetries:    4,
		segmentWindow: 10.0,
		diarize:       strings.EqualFold(os.Getenv("SPEECH_DIARIZATION"), "true"),
	}, nil
}

func (s *SpeechEngine) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *SpeechEngine) EngineID() string { return engineID }

func (s *SpeechEngine) Transcribe(ctx context.Context, req services.TranscribeRequest) (*services.TranscribeResult, error) {
	uri := strings.TrimSpace(req.VideoAssetID)
	if !strings.HasPrefix(uri, "gs://") {
		return nil, fmt.Errorf("video asset must be a gs:// URI, got %q", uri)
	}

	rcfg := &speechpb.RecognitionConfig{
		LanguageCode:               req.Language,
		EnableAutomaticPunctuation: true,
		EnableWordTimeOffsets:      true,
		Encoding:                   speechpb.RecognitionConfig_ENCODING_UNSPECIFIED,
	}
	if s.diarize {
		rcfg.DiarizationConfig = &speechpb.SpeakerDiarizationConfig{
			EnableSpeakerDiarization: true,
		}
	}

	lrReq := &speechpb.LongRunningRecognizeRequest{
		Config: rcfg,
		Audio:  &speechpb.RecognitionAudio{AudioSource: &speechpb.RecognitionAudio_Uri{Uri: uri}},
	}

	resp, err := s.retryLR(ctx, func() (*speechpb.LongRunningRecognizeResponse, error) {
		op, opErr := s.client.LongRunningRecognize(ctx, lrReq)
		if opErr != nil {
			return nil, opErr
		}
		return op.Wait(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("speech longrunningrecognize: %w", err)
	}

	return s.parseResponse(resp), nil
}

type recognizedWord struct {
	word  string
	start float64
	end   float64
	spk   int
	conf  float64
}

func (s *SpeechEngine) parseResponse(resp *speechpb.LongRunningRecognizeResponse) *services.TranscribeResult {
	out := &services.TranscribeResult{}
	if resp == nil || len(resp.Results) == 0 {
		return out
	}

	var words []recognizedWord
	for _, r := range resp.Results {
		if r == nil || len(r.Alternatives) == 0 || r.Alternatives[0] == nil {
			continue
		}
		alt := r.Alternatives[0]
		if strings.TrimSpace(alt.Transcript) == "" {
			continue
		}
		if len(alt.Words) == 0 {
			out.Warnings = append(out.Warnings, "result without word offsets skipped")
			continue
		}
		for _, w := range alt.Words {
			if w == nil {
				continue
			}
			words = append(words, recognizedWord{
				word:  w.Word,
				start: durToSec(w.StartTime),
				end:   durToSec(w.EndTime),
				spk:   int(w.SpeakerTag),
				conf:  float64(w.Confidence),
			})
		}
	}

	if s.diarize {
		out.Segments = groupBySpeaker(words)
	} else {
		out.Segments = groupByTime(words, s.segmentWindow)
	}
	return out
}

// groupBySpeaker folds contiguous same-speaker words into one segment.
func groupBySpeaker(words []recognizedWord) []services.SegmentInput {
	if len(words) == 0 {
		return nil
	}

	var segs []services.SegmentInput
	curSpk := words[0].spk
	curStart := words[0].start
	curEnd := words[0].end
	var buf strings.Builder
	var confSum float64
	var confN int

	flush := func() {
		txt := strings.TrimSpace(buf.String())
		if txt == "" {
			return
		}
		seg := services.SegmentInput{
			StartSec: curStart,
			EndSec:   curEnd,
			Text:     txt,
		}
		spk := fmt.Sprintf("Speaker %d", curSpk)
		seg.Speaker = &spk
		if confN > 0 {
			v := confSum / float64(confN)
			seg.Confidence = &v
		}
		segs = append(segs, seg)
		buf.Reset()
		confSum = 0
		confN = 0
	}

	for _, w := range words {
		if w.spk != curSpk && buf.Len() > 0 {
			flush()
			curSpk = w.spk
			curStart = w.start
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(w.word)
		curEnd = math.Max(curEnd, w.end)
		if w.conf > 0 {
			confSum += w.conf
			confN++
		}
	}
	flush()
	return segs
}

// groupByTime folds words into fixed time windows (~windowSec apart).
func groupByTime(words []recognizedWord, windowSec float64) []services.SegmentInput {
	if len(words) == 0 {
		return nil
	}
	if windowSec <= 0 {
		windowSec = 10
	}

	var segs []services.SegmentInput
	curStart := words[0].start
	curEnd := words[0].end
	var buf strings.Builder
	var confSum float64
	var confN int

	flush := func() {
		txt := strings.TrimSpace(buf.String())
		if txt == "" {
			return
		}
		seg := services.SegmentInput{
			StartSec: curStart,
			EndSec:   curEnd,
			Text:     txt,
		}
		if confN > 0 {
			v := confSum / float64(confN)
			seg.Confidence = &v
		}
		segs = append(segs, seg)
		buf.Reset()
		confSum = 0
		confN = 0
	}

	for _, w := range words {
		if (w.start-curStart) >= windowSec && buf.Len() > 0 {
			flush()
			curStart = w.start
			curEnd = w.end
		}
		if buf.Len() > 0 {
			buf.WriteString(" ")
		}
		buf.WriteString(w.word)
		if w.end > curEnd {
			curEnd = w.end
		}
		if w.conf > 0 {
			confSum += w.conf
			confN++
		}
	}
	flush()
	return segs
}

func durToSec(d *durationpb.Duration) float64 {
	if d == nil {
		return 0
	}
	return float64(d.Seconds) + float64(d.Nanos)/1e9
}

// retryLR retries long-running recognition on transient gRPC codes with
// capped exponential backoff. The final error is wrapped as Transient when
// it was a retryable code, so the job-level retry loop can keep going.
func (s *SpeechEngine) retryLR(ctx context.Context, fn func() (*speechpb.LongRunningRecognizeResponse, error)) (*speechpb.LongRunningRecognizeResponse, error) {
	backoff := 750 * time.Millisecond
	var last error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		resp, err := fn()
		if err == nil {
			return resp, nil
		}
		last = err

		code := status.Code(err)
		if code != codes.Unavailable && code != codes.ResourceExhausted && code != codes.DeadlineExceeded {
			return nil, err
		}
		if attempt == s.maxRetries {
			break
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > 10*time.Second {
			backoff = 10 * time.Second
		}
	}
	return nil, services.Transient(last)
}
