package webmonitor

const indexHTML = `
<!DOCTYPE html>
<html>
<head>
    <title>Lamp Monitor</title>
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <style>
        :root { --bg:#111418; --panel:#1b2027; --text:#e6e6e6; --muted:#8a94a3; --orange:#ff9f1a; --green:#3ddc84; }
        body { margin:0; background:var(--bg); color:var(--text); font-family:system-ui,sans-serif; }
        .app { max-width:1200px; margin:0 auto; padding:16px; }
        .header { display:flex; justify-content:space-between; align-items:center; margin-bottom:12px; }
        .title { font-size:22px; font-weight:600; }
        .badge { padding:4px 10px; border-radius:12px; background:#333; font-size:13px; }
        .badge.alert { background:var(--orange); color:#000; }
        .badge.normal { background:var(--green); color:#000; }
        .grid { display:grid; grid-template-columns:2fr 1fr; gap:12px; }
        .panel { background:var(--panel); border-radius:8px; padding:12px; }
        .panel h2 { margin:0 0 8px; font-size:16px; }
        .stat { display:flex; justify-content:space-between; padding:4px 0; border-bottom:1px solid #2a313a; }
        .muted { color:var(--muted); }
        pre { white-space:pre-wrap; font-size:12px; margin:0; }
        img { width:100%; height:auto; background:#000; }
    </style>
</head>
<body>
    <div class="app">
        <div class="header">
            <div class="title">Lamp Monitor</div>
            <span class="badge" id="state-badge">Waiting for data...</span>
        </div>

        <div class="grid">
            <div class="panel" style="grid-row: span 3;">
                <h2>Live view</h2>
                <img id="stream" src="/stream" alt="Live view">
                <p class="muted" id="frame-note">--</p>
            </div>

            <div class="panel">
                <h2>Detection</h2>
                <div class="stat"><span>Latest verdict</span><span id="verdict">--</span></div>
                <div class="stat"><span>Confidence</span><span id="confidence">--</span></div>
                <div class="stat"><span>Orange / Green</span><span id="percentages">--</span></div>
                <div class="stat"><span>Elapsed</span><span id="elapsed">--</span></div>
                <div class="stat"><span>Alert in</span><span id="remaining">--</span></div>
                <div class="stat"><span>Next check</span><span id="next">--</span></div>
                <div class="stat"><span>Mode</span><span id="mode">--</span></div>
            </div>

            <div class="panel">
                <h2>Episode durations</h2>
                <pre id="durations" class="muted">No completed episodes yet.</pre>
            </div>

            <div class="panel">
                <h2>Recent log</h2>
                <pre id="logs" class="muted">--</pre>
            </div>
        </div>
    </div>

    <script>
        const $ = (id) => document.getElementById(id);
        const fmt = (s) => s == null ? '--' : Math.max(0, Math.round(s)) + 's';

        function render(st) {
            const d = st.detection;
            const badge = $('state-badge');
            if (d.active) {
                badge.textContent = d.notified ? 'ALERT SENT' : (d.ready ? 'ALERT READY' : 'ORANGE DETECTED');
                badge.className = 'badge alert';
            } else {
                badge.textContent = 'GREEN/NONE';
                badge.className = 'badge normal';
            }
            const latest = st.latest_judgment;
            if (latest) {
                $('verdict').textContent = latest.error ? 'error: ' + latest.error : latest.verdict;
                $('confidence').textContent = latest.confidence.toFixed(0) + '%';
                $('percentages').textContent = latest.orange_percentage.toFixed(1) + '% / ' + latest.green_percentage.toFixed(1) + '%';
            }
            $('elapsed').textContent = d.active ? fmt(d.elapsed_seconds) : '--';
            $('remaining').textContent = d.active ? fmt(d.remaining_seconds) : '--';
            $('next').textContent = st.next_detection ? fmt(st.next_detection - st.timestamp) : '--';
            $('mode').textContent = d.mode || '--';
            $('frame-note').textContent = st.frame.available
                ? (st.frame.fresh ? 'Frame age ' + st.frame.age_seconds.toFixed(1) + 's' : 'No signal (stale frame)')
                : 'No frame yet';
            if (st.recent_lines.length) {
                $('logs').textContent = st.recent_lines.join('\n');
            }
            const s = st.durations;
            if (s && s.count > 0) {
                $('durations').textContent =
                    'episodes: ' + s.count + '\nmean: ' + s.mean.toFixed(1) + 's\nmin: ' + s.min.toFixed(1) +
                    's\nmax: ' + s.max.toFixed(1) + 's\nstddev: ' + s.stddev.toFixed(1) + 's';
            }
        }

        const events = new EventSource('/api/status/stream');
        events.onmessage = (e) => render(JSON.parse(e.data));
        events.onerror = () => { $('state-badge').textContent = 'Disconnected'; };
    </script>
</body>
</html>
`
