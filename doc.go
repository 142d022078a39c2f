// Command ytcatalog keeps a CSV catalog of YouTube channels, videos and
// playlists up to date and enriches every video with its audio-track
// languages.
//
// A run has three phases over one locked data directory:
//
//   - prep: every table is re-sorted against the channel reference list,
//     orphaned rows are dropped and course playlist flags are recomputed.
//   - ingest: each channel's uploads are paged newest first until known
//     videos are reached, and only the changed tail of the stored sequence
//     is replaced. Playlists and individually listed videos follow.
//   - enrich: videos without a final audiotracks row are looked up through
//     the configured providers (innertube, yt-dlp, dataapi) with per-run
//     health tracking and staged backoff when every provider is rate
//     limited.
//
// Configuration comes from YTCATALOG_* environment variables and an optional
// ytcatalog.{yaml,toml,json} file. The result of each run is appended to
// _run.json in the data directory.
package main
