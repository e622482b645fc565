package opencl

// KernelSource holds every field kernel in OpenCL C. Launch dimensions are
// read from get_global_size.
const KernelSource = `
#define FAS_TAG 0x80

#define FAS_COUPLE(nidx) { \
  const float rn = r[mat[nidx]]; \
  if (rc + rn > 0.0f) lap += 2.0f*rc/(rc + rn)*(curr[nidx] - p); \
}

#define FAS_PAINT(u, v, w) { \
  const float px = t[0]*(u) + t[1]*(v) + t[2]*(w) + t[9]; \
  const float py = t[3]*(u) + t[4]*(v) + t[5]*(w) + t[10]; \
  const float pz = t[6]*(u) + t[7]*(v) + t[8]*(w) + t[11]; \
  if (px >= 0.0f && py >= 0.0f && pz >= 0.0f && \
      px < (float)sx && py < (float)sy && pz < (float)sz) { \
    mat[(int)pz*sx*sy + (int)py*sx + (int)px] = (uchar)id; \
  } \
}

#define FAS_LINEAR (get_global_id(2)*get_global_size(1)*get_global_size(0) + \
                    get_global_id(1)*get_global_size(0) + get_global_id(0))

__kernel void clear(__global float *p0, __global float *p1, __global uchar *mat,
                    __global float *rms, const int hasRms) {
  const size_t i = FAS_LINEAR;
  p0[i] = 0.0f;
  p1[i] = 0.0f;
  mat[i] = 0;
  if (hasRms) rms[i] = 0.0f;
}

__kernel void stencilStep(__global const float *curr, __global float *prev,
                          __global const uchar *mat,
                          __global const float *r, __global const float *c,
                          const int sz, const float dx, const float dt) {
  const int x = get_global_id(0);
  const int y = get_global_id(1);
  const int sx = get_global_size(0);
  const int sy = get_global_size(1);
  const int sxy = sx*sy;
  const float ratio = dt/dx;
  for (int z = 0; z < sz; ++z) {
    const int idx = z*sxy + y*sx + x;
    const float cc = c[mat[idx]];
    if (cc == 0.0f) {
      prev[idx] = 0.0f;
      continue;
    }
    const float rc = r[mat[idx]];
    const float p = curr[idx];
    float lap = 0.0f;
    if (x > 0) FAS_COUPLE(idx - 1);
    if (x + 1 < sx) FAS_COUPLE(idx + 1);
    if (y > 0) FAS_COUPLE(idx - sx);
    if (y + 1 < sy) FAS_COUPLE(idx + sx);
    if (z > 0) FAS_COUPLE(idx - sxy);
    if (z + 1 < sz) FAS_COUPLE(idx + sxy);
    const float k = cc*ratio;
    prev[idx] = 2.0f*p - prev[idx] + k*k*lap;
  }
}

__kernel void rmsAccumulate(__global const float *curr, __global float *rms, const float w) {
  const size_t i = FAS_LINEAR;
  rms[i] += w*curr[i]*curr[i];
}

__kernel void rmsFinalize(__global float *rms, const float invSteps, const float invSqrtNnpg) {
  const size_t i = FAS_LINEAR;
  rms[i] = sqrt(rms[i]*invSteps)*invSqrtNnpg;
}

__kernel void rasterizeRect(__global uchar *mat, __global const float *t,
                            const int sx, const int sy, const int sz, const int id) {
  FAS_PAINT(get_global_id(0)*0.5f, get_global_id(1)*0.5f, 0.0f);
}

__kernel void rasterizeBox(__global uchar *mat, __global const float *t,
                           const int sx, const int sy, const int sz, const int id) {
  FAS_PAINT(get_global_id(0)*0.5f, get_global_id(1)*0.5f, get_global_id(2)*0.5f);
}

__kernel void rasterizeEllipse(__global uchar *mat, __global const float *t,
                               const int sx, const int sy, const int sz, const int id) {
  const float ra = get_global_size(0)/4.0f;
  const float rb = get_global_size(1)/4.0f;
  const float u = get_global_id(0)*0.5f - ra;
  const float v = get_global_id(1)*0.5f - rb;
  if ((u/ra)*(u/ra) + (v/rb)*(v/rb) <= 1.0f) FAS_PAINT(u, v, 0.0f);
}

__kernel void rasterizeEllipsoid(__global uchar *mat, __global const float *t,
                                 const int sx, const int sy, const int sz, const int id) {
  const float ra = get_global_size(0)/4.0f;
  const float rb = get_global_size(1)/4.0f;
  const float rc = get_global_size(2)/4.0f;
  const float u = get_global_id(0)*0.5f - ra;
  const float v = get_global_id(1)*0.5f - rb;
  const float w = get_global_id(2)*0.5f - rc;
  if ((u/ra)*(u/ra) + (v/rb)*(v/rb) + (w/rc)*(w/rc) <= 1.0f) FAS_PAINT(u, v, w);
}

__kernel void rasterizeCylinder(__global uchar *mat, __global const float *t,
                                const int sx, const int sy, const int sz, const int id,
                                const int height2) {
  const float ra = get_global_size(0)/4.0f;
  const float rb = get_global_size(1)/4.0f;
  const float u = get_global_id(0)*0.5f - ra;
  const float v = get_global_id(1)*0.5f - rb;
  if ((u/ra)*(u/ra) + (v/rb)*(v/rb) <= 1.0f) {
    for (int k = 0; k < height2; ++k) FAS_PAINT(u, v, k*0.5f);
  }
}

__kernel void countTaggedPerLine(__global const uchar *mat, __global uint *count, const int sx) {
  const size_t line = get_global_id(1)*get_global_size(0) + get_global_id(0);
  uint n = 0;
  for (int x = 0; x < sx; ++x) {
    if (mat[line*sx + x] & FAS_TAG) ++n;
  }
  count[line] = n;
}

__kernel void horizontalPrefixSum(__global const uint *count, __global ulong *psum,
                                  __global ulong *rowTotal, const int sy) {
  const size_t z = get_global_id(0);
  ulong acc = 0;
  for (int y = 0; y < sy; ++y) {
    psum[z*sy + y] = acc;
    acc += count[z*sy + y];
  }
  rowTotal[z] = acc;
}

__kernel void verticalPrefixSum(__global ulong *psum, __global const ulong *rowOffset,
                                const int sy, const int sz) {
  const size_t y = get_global_id(0);
  for (int z = 1; z < sz; ++z) {
    psum[z*sy + y] += rowOffset[z - 1];
  }
}

__kernel void collectTagged(__global const uchar *mat, __global const ulong *psum,
                            __global uint *coords, const int sx, const int n) {
  const uint y = get_global_id(0);
  const uint z = get_global_id(1);
  const size_t line = z*get_global_size(0) + y;
  ulong off = psum[line];
  for (int x = 0; x < sx; ++x) {
    if ((mat[line*sx + x] & FAS_TAG) && off < (ulong)n) {
      coords[off] = x;
      coords[off + n] = y;
      coords[off + 2*n] = z;
      ++off;
    }
  }
}

__kernel void clearTagBits(__global uchar *mat) {
  mat[FAS_LINEAR] &= (uchar)~FAS_TAG;
}

__kernel void driveWrite(__global float *p, const float signal, __global const uint *coords,
                         const int n, const int sx, const int sy) {
  const int i = get_global_id(0);
  if (i < n) {
    p[coords[i + 2*n]*sx*sy + coords[i + n]*sx + coords[i]] = signal;
  }
}

__kernel void scanGather(__global const float *p, __global const uint *coords,
                         __global float *out, const int n, const int sx, const int sy) {
  const int i = get_global_id(0);
  if (i < n) {
    out[i] = p[coords[i + 2*n]*sx*sy + coords[i + n]*sx + coords[i]];
  }
}
`
