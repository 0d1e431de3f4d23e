package extract

import (
	"fmt"
	"strings"
)

// xTimeline renders n posts in the current X markup.
func xTimeline(n int) string {
	var b strings.Builder
	b.WriteString(`<html><body><main><div data-testid="primaryColumn">`)
	for i := 1; i <= n; i++ {
		fmt.Fprintf(&b, `<article data-testid="tweet">
  <div data-testid="User-Name"><a href="/candidate">Candidate</a></div>
  <a href="/candidate/status/%d"><time datetime="2024-05-0%dT10:00:00.000Z">May %d</time></a>
  <div data-testid="tweetText">Post number %d about the council budget</div>
  <div data-testid="reply">%d</div>
  <div data-testid="retweet">1.2K</div>
  <div data-testid="like" aria-label="12,345 Likes. Like"></div>
</article>`, 1000+i, i%9+1, i, i, i)
	}
	b.WriteString(`</div></main></body></html>`)
	return b.String()
}

const nitterTimeline = `<html><body><div class="timeline">
<div class="timeline-item">
  <a class="tweet-link" href="/candidate/status/77#m"></a>
  <span class="tweet-date"><a href="/candidate/status/77#m" title="May 5, 2024 · 3:04 PM UTC">May 5</a></span>
  <div class="tweet-content">Mirror post one</div>
</div>
<div class="timeline-item">
  <div class="retweet-header">Candidate retweeted</div>
  <a class="tweet-link" href="/other/status/78#m"></a>
  <div class="tweet-content">Mirror post two</div>
</div>
<div class="timeline-item"><div class="tweet-content">   </div></div>
</div></body></html>`

const newsPage = `<html><head><title>Party news</title></head><body>
<article>
  <h2><a href="/news/housing">Housing plan</a></h2>
  <time datetime="2024-04-01">1 April</time>
  <p>We will build homes in every ward.</p>
  <p>Residents deserve better.</p>
</article>
<article>
  <h2><a href="/news/empty">Nothing here</a></h2>
</article>
<article>
  <h2>No link</h2>
  <p>National manifesto launch.</p>
</article>
</body></html>`
