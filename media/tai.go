package media

import "time"

// taiUTCOffset is the static TAI-UTC offset used when no TAI clock source
// is available. Leap seconds have been suspended since 2016, so this value
// is stable until the ITU resumes them.
const taiUTCOffset = 37 * time.Second
