// Package capture records a bounded voice clip from the microphone.
//
// A Recorder moves through Idle, Recording and Processing. Recording stops on
// a manual Stop, after SilenceTimeout of continuous low energy, or at the
// MaxDuration hard cap. The finished clip is 16 kHz mono 16-bit PCM wrapped in
// a WAV container, ready for upload.
//
// Devices come from a Source. MalgoSource opens the system microphone;
// FakeSource is driven by tests.
//
//	src, err := capture.NewMalgoSource()
//	if err != nil {
//	    return err
//	}
//	defer src.Close()
//
//	rec := capture.NewRecorder(src, capture.DefaultConfig())
//	clip, err := rec.Record(ctx)
//	if errors.Is(err, capture.ErrNoAudio) {
//	    return nil
//	}
//	err = rec.Submit(ctx, clip, upload)
package capture
